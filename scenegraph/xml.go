package scenegraph

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gogpu/deepzoom"
)

// ErrMissingField is wrapped by the ConfigError returned for a scene node
// that lacks a required element.
var ErrMissingField = errors.New("scenegraph: missing required field")

// xmlNode mirrors a SceneNode element. Values are kept as text so that
// absent and malformed elements can be told apart.
type xmlNode struct {
	FileName       *string `xml:"FileName"`
	X              *string `xml:"x"`
	Y              *string `xml:"y"`
	Width          *string `xml:"Width"`
	Height         *string `xml:"Height"`
	ZOrder         *string `xml:"ZOrder"`
	MinRenderWidth *string `xml:"MinRenderWidthInPixels"`
	FadeInLevels   *string `xml:"NumFadeInLevels"`
}

// ParseXML reads a SparseImageSceneGraph document:
//
//	<SceneGraph version="1">
//	  <AspectRatio>2</AspectRatio>
//	  <SceneNode>
//	    <FileName>images\a.png</FileName>
//	    <x>0</x> <y>0</y> <Width>0.5</Width> <Height>1</Height>
//	    <ZOrder>1</ZOrder>
//	  </SceneNode>
//	</SceneGraph>
//
// AspectRatio and SceneNode elements are found at any depth; the first
// AspectRatio wins. Unknown elements are ignored.
func ParseXML(r io.Reader) (*Graph, error) {
	dec := xml.NewDecoder(r)
	g := &Graph{}
	aspect := ""
	seenAspect := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scenegraph: xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "AspectRatio":
			var v string
			if err := dec.DecodeElement(&v, &start); err != nil {
				return nil, fmt.Errorf("scenegraph: xml: %w", err)
			}
			if !seenAspect {
				aspect, seenAspect = v, true
			}
		case "SceneNode":
			var n xmlNode
			if err := dec.DecodeElement(&n, &start); err != nil {
				return nil, fmt.Errorf("scenegraph: xml: %w", err)
			}
			spec, err := n.spec(len(g.Nodes))
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, spec)
		}
	}

	if !seenAspect {
		return nil, &deepzoom.ConfigError{Node: -1, Field: "aspectRatio", Err: ErrMissingField}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(aspect), 64)
	if err != nil {
		return nil, &deepzoom.ConfigError{Node: -1, Field: "aspectRatio", Err: err}
	}
	g.AspectRatio = v
	return g, nil
}

// spec converts n, the i-th node of the document.
func (n *xmlNode) spec(i int) (deepzoom.NodeSpec, error) {
	var s deepzoom.NodeSpec
	p := fieldParser{node: i}

	s.ImagePath = p.text("fileName", n.FileName)
	s.X = p.float("x", n.X)
	s.Y = p.float("y", n.Y)
	s.Width = p.float("width", n.Width)
	s.Height = p.float("height", n.Height)
	s.ZOrder = p.int("zOrder", n.ZOrder)
	s.MinRenderWidth = p.optionalInt("minRenderWidthInPixels", n.MinRenderWidth)
	s.FadeInLevels = p.optionalInt("numFadeInLevels", n.FadeInLevels)
	return s, p.err
}

// fieldParser converts element text, keeping the first failure.
type fieldParser struct {
	node int
	err  error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = &deepzoom.ConfigError{Node: p.node, Field: field, Err: err}
	}
}

func (p *fieldParser) text(field string, v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		p.fail(field, ErrMissingField)
		return ""
	}
	return strings.TrimSpace(*v)
}

func (p *fieldParser) float(field string, v *string) float64 {
	t := p.text(field, v)
	if t == "" {
		return 0
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		p.fail(field, err)
	}
	return f
}

func (p *fieldParser) int(field string, v *string) int {
	t := p.text(field, v)
	if t == "" {
		return 0
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		p.fail(field, err)
	}
	return n
}

func (p *fieldParser) optionalInt(field string, v *string) *int {
	if v == nil {
		return nil
	}
	n := p.int(field, v)
	return &n
}
