package deepzoom

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	// ErrEmptyScene is returned when a scene graph has no nodes.
	ErrEmptyScene = errors.New("deepzoom: scene graph has no nodes")

	// ErrDegenerateCanvas is returned when the composite canvas would be
	// smaller than 1x1 pixel or too large to address.
	ErrDegenerateCanvas = errors.New("deepzoom: degenerate canvas size")

	// ErrInvalidAspect is returned for a non-positive or non-finite aspect ratio.
	ErrInvalidAspect = errors.New("deepzoom: invalid aspect ratio")

	// ErrInvalidNode is returned when a scene node violates its invariants.
	ErrInvalidNode = errors.New("deepzoom: invalid scene node")
)

// ErrPartialOpacity is wrapped by CapabilityError when a sink cannot
// composite with partial alpha.
var ErrPartialOpacity = errors.New("deepzoom: sink does not support partial opacity")

// ErrMissingRenderer is wrapped by ResourceError when an external
// rendering tool is not available.
var ErrMissingRenderer = errors.New("deepzoom: renderer not available")

// ConfigError reports a bad scene-graph value. It is raised before any
// planning or rendering starts.
type ConfigError struct {
	// Node is the index of the offending node in the input list, or -1
	// when the error concerns the scene as a whole.
	Node int

	// Field names the offending attribute, if any.
	Field string

	Err error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Node >= 0 && e.Field != "":
		return fmt.Sprintf("deepzoom: node %d: %s: %v", e.Node, e.Field, e.Err)
	case e.Node >= 0:
		return fmt.Sprintf("deepzoom: node %d: %v", e.Node, e.Err)
	case e.Field != "":
		return fmt.Sprintf("deepzoom: %s: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CapabilityError reports a job the selected sink cannot honour.
// Callers may retry the run with a different sink.
type CapabilityError struct {
	Sink    string
	Key     TileKey
	Opacity uint8
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("deepzoom: sink %q cannot render tile %v with opacity %d: %v",
		e.Sink, e.Key, e.Opacity, ErrPartialOpacity)
}

func (e *CapabilityError) Unwrap() error { return ErrPartialOpacity }

// ResourceError reports a missing external resource such as a renderer binary.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("deepzoom: resource %q: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// invalidNode builds a ConfigError for node i.
func invalidNode(i int, field, format string, args ...any) *ConfigError {
	return &ConfigError{
		Node:  i,
		Field: field,
		Err:   fmt.Errorf("%w: %s", ErrInvalidNode, fmt.Sprintf(format, args...)),
	}
}
