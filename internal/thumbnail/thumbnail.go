// Package thumbnail produces the resized copies of the images.
package thumbnail

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // webp decoder
)

// ErrUnsupported is returned when the image cannot be decoded.
var ErrUnsupported = errors.New("unsupported image format")

// A Thumbnail is an encoded resized image.
type Thumbnail struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Make returns a copy of the encoded image scaled down to fit in a max x max square.
// The aspect ratio is kept and smaller images are not upscaled.
// The output format is the input format, except for webp images which are encoded as JPEG.
func Make(data []byte, max int) (*Thumbnail, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrUnsupported, err.Error())
	}

	dst := Scale(src, max)

	buf := new(bytes.Buffer)
	thumbnail := &Thumbnail{
		Width:  dst.Bounds().Dx(),
		Height: dst.Bounds().Dy(),
	}

	switch format {
	case "png":
		thumbnail.ContentType = "image/png"
		err = png.Encode(buf, dst)
	case "gif":
		thumbnail.ContentType = "image/gif"
		err = gif.Encode(buf, dst, nil)
	case "bmp":
		thumbnail.ContentType = "image/bmp"
		err = bmp.Encode(buf, dst)
	default:
		thumbnail.ContentType = "image/jpeg"
		err = jpeg.Encode(buf, dst, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode %s thumbnail", format)
	}

	thumbnail.Data = buf.Bytes()
	return thumbnail, nil
}

// Scale returns src scaled down to fit in a max x max square.
func Scale(src image.Image, max int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return src
	}

	if w >= h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
