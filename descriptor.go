package deepzoom

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gogpu/deepzoom/internal/geom"
)

// DescriptorNamespace is the XML namespace of Deep Zoom descriptors.
const DescriptorNamespace = "http://schemas.microsoft.com/deepzoom/2008"

// ErrInvalidDescriptor is returned when a descriptor cannot describe a pyramid.
var ErrInvalidDescriptor = errors.New("deepzoom: invalid descriptor")

// Descriptor describes a generated pyramid. It is stored next to the
// tile folder as "<name>.dzi".
type Descriptor struct {
	TileSize int
	Overlap  int
	Format   string
	Width    int
	Height   int
}

// NewDescriptor returns the descriptor of the pyramid built for c.
func NewDescriptor(c Canvas, format string) Descriptor {
	return Descriptor{
		TileSize: TileSize,
		Overlap:  TileOverlap,
		Format:   format,
		Width:    c.Width,
		Height:   c.Height,
	}
}

// Levels returns the number of levels in the pyramid.
func (d Descriptor) Levels() int {
	return geom.FinestLod(geom.Size{W: d.Width, H: d.Height}) + 1
}

func (d Descriptor) validate() error {
	switch {
	case d.TileSize <= 0:
		return fmt.Errorf("%w: tile size %d", ErrInvalidDescriptor, d.TileSize)
	case d.Overlap < 0:
		return fmt.Errorf("%w: overlap %d", ErrInvalidDescriptor, d.Overlap)
	case d.Format == "":
		return fmt.Errorf("%w: empty format", ErrInvalidDescriptor)
	case d.Width < 1 || d.Height < 1:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidDescriptor, d.Width, d.Height)
	}
	return nil
}

type dziImage struct {
	XMLName  xml.Name `xml:"http://schemas.microsoft.com/deepzoom/2008 Image"`
	TileSize int      `xml:"TileSize,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	Format   string   `xml:"Format,attr"`
	Size     dziSize  `xml:"Size"`
}

type dziSize struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

// Encode writes d as Deep Zoom XML to w.
func (d Descriptor) Encode(w io.Writer) error {
	if err := d.validate(); err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	err := enc.Encode(dziImage{
		TileSize: d.TileSize,
		Overlap:  d.Overlap,
		Format:   d.Format,
		Size:     dziSize{Width: d.Width, Height: d.Height},
	})
	if err != nil {
		return fmt.Errorf("deepzoom: encode descriptor: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// DecodeDescriptor reads Deep Zoom XML from r.
func DecodeDescriptor(r io.Reader) (Descriptor, error) {
	var img dziImage
	if err := xml.NewDecoder(r).Decode(&img); err != nil {
		return Descriptor{}, fmt.Errorf("deepzoom: decode descriptor: %w", err)
	}
	d := Descriptor{
		TileSize: img.TileSize,
		Overlap:  img.Overlap,
		Format:   img.Format,
		Width:    img.Size.Width,
		Height:   img.Size.Height,
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// WriteDescriptor writes d to path, creating parent directories as needed.
func WriteDescriptor(path string, d Descriptor) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("deepzoom: create descriptor dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("deepzoom: create descriptor: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return d.Encode(f)
}

// ReadDescriptor reads the descriptor stored at path.
func ReadDescriptor(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("deepzoom: open descriptor: %w", err)
	}
	defer f.Close()
	return DecodeDescriptor(f)
}
