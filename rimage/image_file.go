package rimage

import (
	"bytes"
	"encoding/base64"
	"image"
	// registered codecs for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecodeFailed is returned when a payload or file cannot be turned into an image.
var ErrDecodeFailed = errors.New("could not decode image")

// ImageExtensions are the file extensions of the formats that can be decoded.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// IsImageFile reports whether name has one of ImageExtensions, ignoring case.
func IsImageFile(name string) bool {
	return lo.Contains(ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeBase64Image decodes a base64 encoded image. A data URI header ("data:image/png;base64,")
// is stripped when present. The result is always an opaque RGB image.
func DecodeBase64Image(payload string) (*image.NRGBA, error) {
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		default:
			return r
		}
	}, payload)
	if payload == "" {
		return nil, errors.Wrap(ErrDecodeFailed, "empty payload")
	}

	var raw []byte
	var err error
	for _, enc := range base64Encodings {
		raw, err = enc.DecodeString(payload)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(ErrDecodeFailed, "invalid base64: %v", err)
	}
	return DecodeImageBytes(raw)
}

// DecodeImageBytes decodes an encoded image in any registered format.
func DecodeImageBytes(raw []byte) (*image.NRGBA, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrDecodeFailed, "no image data")
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(ErrDecodeFailed, "%v", err)
	}
	out := toOpaqueNRGBA(img)
	if out.Rect.Empty() {
		return nil, errors.Wrapf(ErrDecodeFailed, "%s image has no pixels", format)
	}
	return out, nil
}

// ReadImageFile reads an image file from disk, applying any EXIF orientation.
func ReadImageFile(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrDecodeFailed, "%s: %v", path, err)
	}
	out := toOpaqueNRGBA(img)
	if out.Rect.Empty() {
		return nil, errors.Wrapf(ErrDecodeFailed, "%s has no pixels", path)
	}
	return out, nil
}

// toOpaqueNRGBA copies img into an NRGBA anchored at the origin and drops the alpha channel.
func toOpaqueNRGBA(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
