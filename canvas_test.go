package deepzoom

import (
	"errors"
	"math"
	"testing"
)

func TestNewCanvas(t *testing.T) {
	tests := []struct {
		name   string
		nodes  []NodeSpec
		sizes  []ImageSize
		aspect float64
		want   Canvas
	}{
		{
			name:   "side by side",
			nodes:  []NodeSpec{{Width: 0.5, Height: 0.5}, {X: 0.5, Width: 0.5, Height: 0.5}},
			sizes:  []ImageSize{{512, 512}, {512, 512}},
			aspect: 2,
			want:   Canvas{Width: 1024, Height: 512, AspectRatio: 2, FinestLod: 10},
		},
		{
			name:   "largest implied width wins",
			nodes:  []NodeSpec{{Width: 1, Height: 1}, {Width: 0.1, Height: 0.1}},
			sizes:  []ImageSize{{300, 300}, {100, 100}},
			aspect: 1,
			want:   Canvas{Width: 1000, Height: 1000, AspectRatio: 1, FinestLod: 10},
		},
		{
			name:   "rounds up",
			nodes:  []NodeSpec{{Width: 0.3, Height: 0.3}},
			sizes:  []ImageSize{{100, 100}},
			aspect: 3,
			want:   Canvas{Width: 334, Height: 112, AspectRatio: 3, FinestLod: 9},
		},
		{
			name:   "tall canvas",
			nodes:  []NodeSpec{{Width: 1, Height: 1}},
			sizes:  []ImageSize{{100, 400}},
			aspect: 0.25,
			want:   Canvas{Width: 100, Height: 400, AspectRatio: 0.25, FinestLod: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nodes []SceneNode
			for i, spec := range tt.nodes {
				n, err := NewSceneNode(i, spec, tt.sizes[i])
				if err != nil {
					t.Fatal(err)
				}
				nodes = append(nodes, n)
			}
			got, err := NewCanvas(nodes, tt.aspect)
			if err != nil {
				t.Fatalf("NewCanvas() = %v", err)
			}
			if got != tt.want {
				t.Errorf("NewCanvas() = %+v, want %+v", got, tt.want)
			}
			if s := got.LodSize(got.FinestLod); s.W != got.Width || s.H != got.Height {
				t.Errorf("LodSize(finest) = %v, want %dx%d", s, got.Width, got.Height)
			}
		})
	}
}

func TestNewCanvas_Errors(t *testing.T) {
	one := mustNode(t, NodeSpec{Width: 1, Height: 1}, 10, 10)
	huge := mustNode(t, NodeSpec{Width: 1e-9, Height: 1}, 10, 10)

	tests := []struct {
		name   string
		nodes  []SceneNode
		aspect float64
		want   error
	}{
		{"empty", nil, 1, ErrEmptyScene},
		{"zero aspect", []SceneNode{one}, 0, ErrInvalidAspect},
		{"negative aspect", []SceneNode{one}, -2, ErrInvalidAspect},
		{"NaN aspect", []SceneNode{one}, math.NaN(), ErrInvalidAspect},
		{"too wide", []SceneNode{huge}, 1, ErrDegenerateCanvas},
		{"too tall", []SceneNode{one}, 1e-9, ErrDegenerateCanvas},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCanvas(tt.nodes, tt.aspect)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NewCanvas() = %v, want %v", err, tt.want)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Node != -1 {
				t.Errorf("error %v is not a scene-wide *ConfigError", err)
			}
		})
	}
}

func TestCanvas_TileCount(t *testing.T) {
	c := Canvas{Width: 1024, Height: 512, AspectRatio: 2, FinestLod: 10}
	tests := []struct{ lod, want int }{
		{10, 5 * 3},
		{9, 3 * 2},
		{8, 2 * 1},
		{0, 1},
	}
	for _, tt := range tests {
		if got := c.TileCount(tt.lod); got != tt.want {
			t.Errorf("TileCount(%d) = %d, want %d", tt.lod, got, tt.want)
		}
	}
}
