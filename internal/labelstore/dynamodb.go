package labelstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

// Attribute names of the DynamoDB items.
const (
	AttributeImage     = "image"
	AttributeSource    = "source"
	AttributeThumbnail = "thumbnail"
	AttributeLabels    = "labels"
	AttributeUpdatedAt = "updated_at"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the label store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

type ddb struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDB returns a Store backed by a DynamoDB table partitioned by the image attribute.
func NewDynamoDB(client DynamoDBAPI, table string) Store {
	return &ddb{
		client: client,
		table:  table,
	}
}

func (s *ddb) Put(ctx context.Context, label *model.Label) error {
	now := time.Now().UTC()
	label.SetUpdatedAt(now)
	if label.CreatedAt == nil {
		label.SetCreatedAt(now)
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      marshalLabel(label),
	})
	return errors.Wrap(err, "labelstore: dynamodb put")
}

func (s *ddb) Get(ctx context.Context, image string) (*model.Label, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(image),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "labelstore: dynamodb get")
	}
	if len(out.Item) == 0 {
		return nil, errors.Wrap(ErrNotFound, image)
	}

	return unmarshalLabel(out.Item)
}

func (s *ddb) Delete(ctx context.Context, image string) error {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key(image),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return errors.Wrap(err, "labelstore: dynamodb delete")
	}
	if len(out.Attributes) == 0 {
		return errors.Wrap(ErrNotFound, image)
	}
	return nil
}

func (s *ddb) List(ctx context.Context, prefix string) ([]*model.Label, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#image, :prefix)")
		input.ExpressionAttributeNames = map[string]string{"#image": AttributeImage}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	labels := make([]*model.Label, 0)
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "labelstore: dynamodb scan")
		}

		for _, item := range out.Items {
			label, err := unmarshalLabel(item)
			if err != nil {
				return nil, err
			}
			labels = append(labels, label)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(labels, func(i, j int) bool {
		return labels[i].Image < labels[j].Image
	})
	return labels, nil
}

func key(image string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttributeImage: &types.AttributeValueMemberS{Value: image},
	}
}

func marshalLabel(label *model.Label) map[string]types.AttributeValue {
	labels := make([]types.AttributeValue, 0, len(label.Labels))
	for _, l := range label.Labels {
		labels = append(labels, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name":       &types.AttributeValueMemberS{Value: l.Name},
			"confidence": &types.AttributeValueMemberN{Value: strconv.FormatFloat(l.Confidence, 'f', -1, 64)},
		}})
	}

	item := map[string]types.AttributeValue{
		AttributeImage:  &types.AttributeValueMemberS{Value: label.Image},
		AttributeLabels: &types.AttributeValueMemberL{Value: labels},
	}
	if label.UpdatedAt != nil {
		item[AttributeUpdatedAt] = &types.AttributeValueMemberS{Value: label.UpdatedAt.Format(time.RFC3339Nano)}
	}
	if label.Source != "" {
		item[AttributeSource] = &types.AttributeValueMemberS{Value: label.Source}
	}
	if label.Thumbnail != "" {
		item[AttributeThumbnail] = &types.AttributeValueMemberS{Value: label.Thumbnail}
	}
	return item
}

func unmarshalLabel(item map[string]types.AttributeValue) (*model.Label, error) {
	label := &model.Label{
		Image:     stringAttribute(item[AttributeImage]),
		Source:    stringAttribute(item[AttributeSource]),
		Thumbnail: stringAttribute(item[AttributeThumbnail]),
		Labels:    make([]model.DetectedLabel, 0),
	}
	label.ID = label.Image

	if v := stringAttribute(item[AttributeUpdatedAt]); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, errors.Wrap(err, "labelstore: dynamodb updated_at")
		}
		label.SetUpdatedAt(t)
	}

	list, ok := item[AttributeLabels].(*types.AttributeValueMemberL)
	if !ok {
		return label, nil
	}

	for _, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			continue
		}

		detected := model.DetectedLabel{
			Name: stringAttribute(m.Value["name"]),
		}
		if n, ok := m.Value["confidence"].(*types.AttributeValueMemberN); ok {
			confidence, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return nil, errors.Wrap(err, "labelstore: dynamodb confidence")
			}
			detected.Confidence = confidence
		}
		label.Labels = append(label.Labels, detected)
	}
	return label, nil
}

func stringAttribute(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
