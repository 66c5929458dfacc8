package labelstore

import (
	"context"
	"strings"
	"time"

	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type labelRow struct {
	Image     string `gorm:"primaryKey"`
	Source    string
	Thumbnail string
	Labels    []model.DetectedLabel `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type sqlStore struct {
	db    *gorm.DB
	table string
}

// OpenSQL opens the SQLite database at dsn and migrates the label table.
func OpenSQL(dsn, table string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open sqlite database at %s", dsn)
	}

	return NewSQL(db, table)
}

// NewSQL returns a Store backed by the given gorm database.
func NewSQL(db *gorm.DB, table string) (Store, error) {
	if err := db.Table(table).AutoMigrate(&labelRow{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate label table")
	}

	return &sqlStore{
		db:    db,
		table: table,
	}, nil
}

func (s *sqlStore) Put(ctx context.Context, label *model.Label) error {
	row := labelRow{
		Image:     label.Image,
		Source:    label.Source,
		Thumbnail: label.Thumbnail,
		Labels:    label.Labels,
	}

	err := s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image"}},
		DoUpdates: clause.AssignmentColumns([]string{"source", "thumbnail", "labels", "updated_at"}),
	}).Create(&row).Error
	return errors.Wrap(err, "labelstore: sql put")
}

func (s *sqlStore) Get(ctx context.Context, image string) (*model.Label, error) {
	var row labelRow
	err := s.db.WithContext(ctx).Table(s.table).Where("image = ?", image).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrNotFound, image)
	}
	if err != nil {
		return nil, errors.Wrap(err, "labelstore: sql get")
	}

	return row.label(), nil
}

func (s *sqlStore) Delete(ctx context.Context, image string) error {
	tx := s.db.WithContext(ctx).Table(s.table).Where("image = ?", image).Delete(&labelRow{})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "labelstore: sql delete")
	}
	if tx.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, image)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, prefix string) ([]*model.Label, error) {
	var rows []labelRow
	err := s.db.WithContext(ctx).Table(s.table).
		Where(`image LIKE ? ESCAPE '\'`, like(prefix)).
		Order("image").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "labelstore: sql list")
	}

	labels := make([]*model.Label, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, row.label())
	}
	return labels, nil
}

func (r labelRow) label() *model.Label {
	label := &model.Label{
		Image:     r.Image,
		Source:    r.Source,
		Thumbnail: r.Thumbnail,
		Labels:    r.Labels,
	}
	label.ID = r.Image
	label.SetCreatedAt(r.CreatedAt)
	label.SetUpdatedAt(r.UpdatedAt)
	if label.Labels == nil {
		label.Labels = make([]model.DetectedLabel, 0)
	}
	return label
}

func like(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
