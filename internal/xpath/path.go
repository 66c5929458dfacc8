package xpath

import (
	"net/url"
	"path"
	"strings"
)

// PrivatePrefix is the root of all the per-identity storage prefixes.
const PrivatePrefix = "private/"

// Entities takes the path p and extracts the bucket and the key.
func Entities(p string) (bucket, key string) {
	cp, err := url.PathUnescape(p)
	if err == nil {
		p = cp
	}

	p = strings.TrimPrefix(p, "/")
	artifacts := strings.Split(p, "/")
	if len(artifacts) < 2 {
		return artifacts[0], ""
	}
	return artifacts[0], path.Join(artifacts[1:]...)
}

// OwnerPrefix returns the storage prefix owned by the given subject.
func OwnerPrefix(subject string) string {
	return PrivatePrefix + subject + "/"
}

// ImageID returns the label record identifier of an image key.
func ImageID(key string) string {
	return strings.TrimPrefix(key, PrivatePrefix)
}

// ResizedKey returns the key of the resized object derived from the given image key.
func ResizedKey(key string) string {
	return key
}

// Clean normalizes a key: no leading slash, no dot segments.
// Cleaning keeps a trailing slash because it denotes a prefix.
func Clean(key string) string {
	if key == "" {
		return ""
	}

	trailing := strings.HasSuffix(key, "/")
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if trailing && key != "" {
		key += "/"
	}
	return key
}
