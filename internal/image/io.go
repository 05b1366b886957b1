package image

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Source image formats.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// I/O errors.
var (
	// ErrUnsupportedFormat is returned when a tile format cannot be encoded.
	ErrUnsupportedFormat = errors.New("image: unsupported format")

	// ErrEmptyImage is returned when an image has no pixels.
	ErrEmptyImage = errors.New("image: empty image")
)

// JPEGQuality is the quality of JPEG tiles.
const JPEGQuality = 90

// OpenFunc opens the resource at location for reading.
type OpenFunc func(ctx context.Context, location string) (io.ReadCloser, error)

// OpenFile is an OpenFunc for local paths.
func OpenFile(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(location))
	if err != nil {
		return nil, fmt.Errorf("image: open file: %w", err)
	}
	return f, nil
}

// DecodeSize reads only the image header from r.
func DecodeSize(r io.Reader) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, "", fmt.Errorf("image: decode config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, format, ErrEmptyImage
	}
	return cfg.Width, cfg.Height, format, nil
}

// Size returns the pixel size of the image at location without decoding
// its pixels.
func Size(ctx context.Context, open OpenFunc, location string) (width, height int, err error) {
	rc, err := open(ctx, location)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = rc.Close() }()

	width, height, _, err = DecodeSize(rc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w (%s)", err, location)
	}
	return width, height, nil
}

// Decode decodes an image from r, auto-detecting the format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// Load opens and decodes the image at location.
func Load(ctx context.Context, open OpenFunc, location string) (image.Image, error) {
	rc, err := open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	img, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, location)
	}
	return img, nil
}

// ToRGBA returns img as an *image.RGBA whose bounds start at the origin.
// img is returned as is when it already is one.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// LoadTile reads an existing tile. The error wraps fs.ErrNotExist if
// there is no tile at path yet.
func LoadTile(path string) (*image.RGBA, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("image: open tile: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return ToRGBA(img), nil
}

// EncodeTile encodes img in format ("png", "jpg" or "jpeg") to w.
func EncodeTile(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "png":
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("image: encode PNG: %w", err)
		}
	case "jpg", "jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return fmt.Errorf("image: encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return nil
}

// SaveTile writes img to path in the given format. The tile is written
// to a temporary file first and renamed, so readers never see a partial
// tile.
func SaveTile(path string, img image.Image, format string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("image: create tile dir: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return fmt.Errorf("image: create file: %w", err)
	}
	tmp := f.Name()

	if err := EncodeTile(f, img, format); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("image: close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("image: rename tile: %w", err)
	}
	return nil
}
