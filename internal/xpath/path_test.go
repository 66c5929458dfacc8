package xpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntities(t *testing.T) {
	bucket, key := Entities("images/private/a%2Fb/cat.jpg")
	assert.Equal(t, "images", bucket)
	assert.Equal(t, "private/a/b/cat.jpg", key)

	bucket, key = Entities("/images")
	assert.Equal(t, "images", bucket)
	assert.Equal(t, "", key)
}

func TestOwnerPrefix(t *testing.T) {
	assert.Equal(t, "private/42/", OwnerPrefix("42"))
}

func TestImageID(t *testing.T) {
	key := "private/42/cat.jpg"
	assert.Equal(t, "42/cat.jpg", ImageID(key))
	assert.Equal(t, key, ResizedKey(key))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "private/42/cat.jpg", Clean("/private/42/../42/./cat.jpg"))
	assert.Equal(t, "private/42/", Clean("private/42/"))
	assert.Equal(t, "cat.jpg", Clean("../../cat.jpg"))
	assert.Equal(t, "", Clean(""))
}
