package storage

import (
	"context"
	"testing"

	"github.com/ncw/swift/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type swiftmock struct {
	mock.Mock
}

func (m *swiftmock) ObjectOpen(ctx context.Context, container string, objectName string, checkHash bool, h swift.Headers) (*swift.ObjectOpenFile, swift.Headers, error) {
	args := m.Called(container, objectName)
	return nil, nil, args.Error(0)
}

func (m *swiftmock) ObjectCreate(ctx context.Context, container string, objectName string, checkHash bool, hash string, contentType string, h swift.Headers) (*swift.ObjectCreateFile, error) {
	args := m.Called(container, objectName)
	return nil, args.Error(0)
}

func (m *swiftmock) ObjectDelete(ctx context.Context, container string, objectName string) error {
	args := m.Called(container, objectName)
	return args.Error(0)
}

func TestSwift(t *testing.T) {
	conn := new(swiftmock)
	backend := NewSwift(conn, "rekbox-")
	ctx := context.Background()

	assert.Equal(t, "swift", backend.Name())

	conn.On("ObjectOpen", "rekbox-images", "private/a/cat.jpg").Return(swift.ObjectNotFound)
	_, err := backend.Reader(ctx, "images", "private/a/cat.jpg")
	assert.True(t, IsNotFound(err))

	conn.On("ObjectDelete", "rekbox-images", "private/a/cat.jpg").Return(swift.ObjectNotFound).Once()
	assert.True(t, IsNotFound(backend.Remove(ctx, "images", "private/a/cat.jpg")))

	conn.On("ObjectDelete", "rekbox-images", "private/a/cat.jpg").Return(nil).Once()
	assert.NoError(t, backend.Remove(ctx, "images", "private/a/cat.jpg"))

	conn.On("ObjectCreate", "rekbox-resized", "private/a/cat.jpg").Return(swift.Forbidden)
	_, err = backend.Writer(ctx, "resized", "private/a/cat.jpg")
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))

	assert.NoError(t, backend.Cleanup())
	conn.AssertExpectations(t)
}
