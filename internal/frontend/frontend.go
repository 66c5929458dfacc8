// Package frontend implements the compute unit serving the read and delete requests
// on the stored images and their labels.
package frontend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/database"
	"github.com/mdouchement/rekbox/internal/labelstore"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/mdouchement/rekbox/internal/policy"
	"github.com/mdouchement/rekbox/internal/service"
	"github.com/mdouchement/rekbox/internal/storage"
	"github.com/mdouchement/rekbox/internal/xpath"
	"github.com/pkg/errors"
)

// Supported actions.
const (
	ActionList   = "list"
	ActionGet    = "get"
	ActionDelete = "delete"
)

// Error codes.
const (
	CodeUnsupportedAction = "UnsupportedAction"
	CodeInvalidParameter  = "InvalidParameter"
	CodeAccessDenied      = "AccessDenied"
	CodeNotFound          = "NotFound"
	CodeInternalError     = "InternalError"
)

type (
	// A Controller is an Inversion Of Control pattern used to init the function.
	Controller struct {
		Logger        logger.Logger
		Database      database.Client
		Storage       storage.Backend
		Labels        labelstore.Store
		Role          *policy.Role
		Table         string
		ImageBucket   string
		ResizedBucket string
	}

	// A Request is one invocation of the function.
	Request struct {
		Method  string
		Action  string
		Key     string
		Subject string
	}

	// Deleted is the result of the delete action.
	Deleted struct {
		Image     string `json:"image"`
		Source    string `json:"source"`
		Thumbnail string `json:"thumbnail"`
	}

	// An Error is a failed invocation.
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		err     error
	}

	// A Function is the front-end compute unit.
	Function struct {
		log           logger.Logger
		database      database.Client
		storage       storage.Backend
		labels        labelstore.Store
		principal     policy.Principal
		imageBucket   string
		resizedBucket string
	}
)

// New returns a new Function.
func New(c Controller) *Function {
	principal := c.Role.Assume("")

	return &Function{
		log:           c.Logger.WithPrefix("[frontend]"),
		database:      c.Database,
		storage:       c.Storage,
		labels:        labelstore.NewGuard(c.Labels, principal, c.Table),
		principal:     principal,
		imageBucket:   c.ImageBucket,
		resizedBucket: c.ResizedBucket,
	}
}

// Handle performs the requested action. Every failure is returned as an *Error.
func (f *Function) Handle(ctx context.Context, r Request) (interface{}, error) {
	v, err := f.handle(ctx, r)
	if err != nil {
		return nil, wrap(err)
	}
	return v, nil
}

func (f *Function) handle(ctx context.Context, r Request) (interface{}, error) {
	key := xpath.Clean(r.Key)
	if key == "" {
		return nil, &Error{Code: CodeInvalidParameter, Message: "key is required"}
	}

	// The owner prefix always ends with a slash so a subject cannot reach the records of a longer one.
	prefix := xpath.OwnerPrefix(r.Subject)
	if key+"/" == prefix {
		key = prefix
	}
	if r.Subject == "" || strings.Contains(r.Subject, "/") || !strings.HasPrefix(key, prefix) {
		return nil, &Error{Code: CodeAccessDenied, Message: fmt.Sprintf("%s is outside of the caller's prefix", key)}
	}

	switch {
	case r.Method == http.MethodGet && r.Action == ActionList:
		return f.list(ctx, key)
	case r.Method == http.MethodGet && r.Action == ActionGet:
		return f.get(ctx, key)
	case r.Method == http.MethodDelete && r.Action == ActionDelete:
		return f.delete(ctx, key)
	}

	return nil, &Error{Code: CodeUnsupportedAction, Message: fmt.Sprintf("unsupported action %s %s", r.Method, r.Action)}
}

func (f *Function) list(ctx context.Context, prefix string) ([]*model.Label, error) {
	labels, err := f.labels.List(ctx, xpath.ImageID(prefix))
	if err != nil {
		return nil, errors.Wrap(err, "could not list labels")
	}

	if labels == nil {
		labels = []*model.Label{}
	}
	return labels, nil
}

func (f *Function) get(ctx context.Context, key string) (*model.Label, error) {
	label, err := f.labels.Get(ctx, xpath.ImageID(key))
	if err != nil {
		return nil, errors.Wrapf(err, "could not get labels of %s", key)
	}
	return label, nil
}

func (f *Function) delete(ctx context.Context, key string) (*Deleted, error) {
	id := xpath.ImageID(key)

	label, err := f.labels.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "could not get labels of %s", key)
	}

	thumbnail := label.Thumbnail
	if thumbnail == "" {
		thumbnail = xpath.ResizedKey(key)
	}

	err = service.NewObjectDestroyer(f.database, f.storage, f.principal, f.imageBucket, key).Destroy(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not delete image")
	}

	err = service.NewObjectDestroyer(f.database, f.storage, f.principal, f.resizedBucket, thumbnail).Destroy(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not delete thumbnail")
	}

	if err = f.labels.Delete(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "could not delete labels of %s", key)
	}

	f.log.Infof("Deleted %s", key)
	return &Deleted{
		Image:     id,
		Source:    key,
		Thumbnail: thumbnail,
	}, nil
}

//
// Errors
//

func wrap(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	code := CodeInternalError
	switch {
	case labelstore.IsNotFound(err), storage.IsNotFound(err):
		code = CodeNotFound
	case policy.IsAccessDenied(err):
		code = CodeAccessDenied
	}

	return &Error{
		Code:    code,
		Message: err.Error(),
		err:     err,
	}
}

// Error stringifies the error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// IsCode returns true if err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
