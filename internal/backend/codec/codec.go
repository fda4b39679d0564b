package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime"
	"strings"

	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DataURIPrefix marks a base64 PNG payload embedded as a data URI.
	DataURIPrefix = "data:image/png;base64,"

	// InferenceMaxDimension bounds the longest side of images sent to the inference provider.
	InferenceMaxDimension = 512

	// DefaultMaxPixels is the usual decompression bomb threshold, 2 x 89,478,485 pixels.
	DefaultMaxPixels = 2 * 89_478_485
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("invalid or corrupted image")
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ValidateContentType checks the client-declared MIME type against the upload allow-list.
// The bytes themselves are not inspected.
func ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}
	if !allowedContentTypes[strings.ToLower(mediaType)] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
	return nil
}

// Decode parses JPEG, PNG or WebP bytes into an image of at most DefaultMaxPixels.
func Decode(data []byte) (image.Image, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads the header first and refuses images whose declared
// width x height exceeds maxPixels before any pixel buffer is allocated.
// A maxPixels of zero or less disables the check.
func DecodeLimited(data []byte, maxPixels int) (image.Image, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(config.Width) * int64(config.Height); maxPixels > 0 && pixels > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d image exceeds %d pixels", ErrDecode, config.Width, config.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	slog.Debug("codec: decoded image",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())
	return img, nil
}

// NormalizeColorSpace returns an opaque three channel image. Alpha is dropped, not composited.
func NormalizeColorSpace(img image.Image) image.Image {
	switch typed := img.(type) {
	case *image.RGBA:
		if typed.Opaque() {
			return img
		}
	case *image.NRGBA:
		if typed.Opaque() {
			return img
		}
	}

	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	parallelFor(bounds.Dy(), func(y int) {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	})
	return dst
}

// Resize downscales img so that its longest side is at most maxDimension.
// Images already within bounds are returned unchanged; images are never upscaled.
func Resize(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := max(width, height)
	if maxDimension <= 0 || longest <= maxDimension {
		return img
	}

	newWidth, newHeight := computeScaledDimensions(width, height, maxDimension)
	slog.Info("codec: resizing image",
		"from_width", width,
		"from_height", height,
		"to_width", newWidth,
		"to_height", newHeight)
	return imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
}

// computeScaledDimensions scales both sides by maxDimension/longest, flooring, at least 1px.
func computeScaledDimensions(width, height, maxDimension int) (int, int) {
	longest := max(width, height)
	newWidth := max(width*maxDimension/longest, 1)
	newHeight := max(height*maxDimension/longest, 1)
	return newWidth, newHeight
}

// EncodePNG serializes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// rough heuristic: 1 byte per pixel
	buf.Grow(bb.Dx() * bb.Dy())
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG image: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode serializes img as a base64 PNG data URI.
func Encode(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return DataURIPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64 is the inverse of Encode. A leading data URI header is optional.
func DecodeBase64(encoded string) (image.Image, error) {
	if strings.HasPrefix(encoded, "data:image") {
		if _, payload, found := strings.Cut(encoded, ","); found {
			encoded = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Decode(data)
}
