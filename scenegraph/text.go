package scenegraph

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/gogpu/deepzoom"
)

var (
	sceneLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n+`},
		{Name: "Comment", Pattern: `#[^\n]*`},
		{Name: "String", Pattern: `"(?:\\.|[^"\\\n])*"`},
		{Name: "Number", Pattern: `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "Symbol", Pattern: `=`},
	})

	textParser = participle.MustBuild[textDocument](
		participle.Lexer(sceneLexer),
		participle.Elide("Whitespace", "Comment"),
	)
)

// ErrUnknownAttribute is wrapped by the ConfigError for a node attribute
// the text format does not define.
var ErrUnknownAttribute = errors.New("scenegraph: unknown attribute")

type textDocument struct {
	Statements []*textStatement `parser:"Newline* ( @@ Newline* )*"`
}

type textStatement struct {
	Pos    lexer.Position `parser:""`
	Aspect *string        `parser:"  'aspect' @Number"`
	Node   *textNode      `parser:"| 'node' @@"`
}

type textNode struct {
	Pos   lexer.Position `parser:""`
	Image pathLiteral    `parser:"@String"`
	Attrs []*textAttr    `parser:"@@*"`
}

type textAttr struct {
	Pos   lexer.Position `parser:""`
	Key   string         `parser:"@Ident '='"`
	Value string         `parser:"@Number"`
}

// pathLiteral is a double-quoted path. Only \" and \\ are escapes, so
// Windows separators survive unchanged.
type pathLiteral string

// Capture implements participle.Capture.
func (p *pathLiteral) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("path literal capture requires value")
	}
	v := values[0]
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return fmt.Errorf("malformed path literal %s", v)
	}
	*p = pathLiteral(pathUnescaper.Replace(v[1 : len(v)-1]))
	return nil
}

var pathUnescaper = strings.NewReplacer(`\"`, `"`, `\\`, `\`)

// ParseText reads the text scene format:
//
//	# two images side by side
//	aspect 2
//	node "a.png" x=0   y=0 width=0.5 height=1 z=1
//	node "b.png" x=0.5 y=0 width=0.5 height=1 z=2 minwidth=64 fade=2
//
// x, y, width, height and z are required; minwidth and fade are optional.
// name labels error positions.
func ParseText(r io.Reader, name string) (*Graph, error) {
	doc, err := textParser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("scenegraph: %w", err)
	}

	g := &Graph{}
	seenAspect := false
	for _, st := range doc.Statements {
		switch {
		case st.Aspect != nil:
			if seenAspect {
				return nil, &deepzoom.ConfigError{Node: -1, Field: "aspectRatio",
					Err: fmt.Errorf("%s: aspect given twice", st.Pos)}
			}
			v, err := strconv.ParseFloat(*st.Aspect, 64)
			if err != nil {
				return nil, &deepzoom.ConfigError{Node: -1, Field: "aspectRatio", Err: err}
			}
			g.AspectRatio, seenAspect = v, true
		case st.Node != nil:
			spec, err := st.Node.spec(len(g.Nodes))
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, spec)
		}
	}
	if !seenAspect {
		return nil, &deepzoom.ConfigError{Node: -1, Field: "aspectRatio", Err: ErrMissingField}
	}
	return g, nil
}

// textFields maps attribute names to the field names used in errors.
var textFields = map[string]string{
	"x":        "x",
	"y":        "y",
	"width":    "width",
	"height":   "height",
	"z":        "zOrder",
	"minwidth": "minRenderWidthInPixels",
	"fade":     "numFadeInLevels",
}

// spec converts n, the i-th node of the document.
func (n *textNode) spec(i int) (deepzoom.NodeSpec, error) {
	values := make(map[string]*string, len(n.Attrs))
	for _, a := range n.Attrs {
		field, ok := textFields[a.Key]
		if !ok {
			return deepzoom.NodeSpec{}, &deepzoom.ConfigError{Node: i, Field: a.Key,
				Err: fmt.Errorf("%s: %w", a.Pos, ErrUnknownAttribute)}
		}
		if _, dup := values[field]; dup {
			return deepzoom.NodeSpec{}, &deepzoom.ConfigError{Node: i, Field: field,
				Err: fmt.Errorf("%s: attribute %s given twice", a.Pos, a.Key)}
		}
		values[field] = &a.Value
	}

	var s deepzoom.NodeSpec
	p := fieldParser{node: i}
	path := string(n.Image)
	s.ImagePath = p.text("fileName", &path)
	s.X = p.float("x", values["x"])
	s.Y = p.float("y", values["y"])
	s.Width = p.float("width", values["width"])
	s.Height = p.float("height", values["height"])
	s.ZOrder = p.int("zOrder", values["zOrder"])
	s.MinRenderWidth = p.optionalInt("minRenderWidthInPixels", values["minRenderWidthInPixels"])
	s.FadeInLevels = p.optionalInt("numFadeInLevels", values["numFadeInLevels"])
	return s, p.err
}
