package shaderprobe

import (
	"errors"
	"fmt"
	"strings"
)

// Default entry point names of the built-in shader library.
const (
	DefaultVertexEntry   = "main_vertex"
	DefaultFragmentEntry = "main_fragment"
)

// PixelFormat is the color attachment format of the pipeline.
type PixelFormat uint8

const (
	// RGBA8Unorm stores four 8-bit normalized channels per texel.
	RGBA8Unorm PixelFormat = iota
	// RGBA32Float stores four 32-bit float channels per texel.
	RGBA32Float
)

// ComponentBytes returns the byte width of a single color component.
func (f PixelFormat) ComponentBytes() int {
	if f == RGBA32Float {
		return 4
	}
	return 1
}

// TexelBytes returns the byte width of one RGBA texel.
func (f PixelFormat) TexelBytes() int { return 4 * f.ComponentBytes() }

func (f PixelFormat) String() string {
	switch f {
	case RGBA8Unorm:
		return "rgba8unorm"
	case RGBA32Float:
		return "rgba32float"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint8(f))
	}
}

// ParsePixelFormat parses the String form of a PixelFormat (case-insensitive).
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(s) {
	case "rgba8unorm", "rgba8":
		return RGBA8Unorm, nil
	case "rgba32float", "rgba32f":
		return RGBA32Float, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q (want rgba8unorm or rgba32float)", s)
}

// Topology selects the primitive used by the single draw call.
type Topology uint8

const (
	// TriangleStrip draws a 4-vertex strip covering the whole target.
	TriangleStrip Topology = iota
	// Point draws a single one-pixel point.
	Point
)

// VertexCount returns the number of vertices issued for the topology.
func (t Topology) VertexCount() uint32 {
	if t == Point {
		return 1
	}
	return 4
}

func (t Topology) String() string {
	switch t {
	case TriangleStrip:
		return "triangle-strip"
	case Point:
		return "point"
	default:
		return fmt.Sprintf("Topology(%d)", uint8(t))
	}
}

// ParseTopology parses the String form of a Topology.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(s) {
	case "triangle-strip", "strip":
		return TriangleStrip, nil
	case "point":
		return Point, nil
	}
	return 0, fmt.Errorf("unknown topology %q (want triangle-strip or point)", s)
}

// PipelineSpec names the render pipeline under test. It is consumed by both
// the harvester (to produce the archive) and the executor (to rebuild a
// runnable pipeline). A PipelineSpec is a value; copies never alias.
type PipelineSpec struct {
	VertexEntry   string
	FragmentEntry string
	Format        PixelFormat
}

// DefaultPipelineSpec returns the pipeline of the built-in shader library:
// main_vertex + main_fragment rendering into an RGBA8Unorm target.
func DefaultPipelineSpec() PipelineSpec {
	return PipelineSpec{
		VertexEntry:   DefaultVertexEntry,
		FragmentEntry: DefaultFragmentEntry,
		Format:        RGBA8Unorm,
	}
}

// Validate reports structural problems with the pipeline description.
// Whether the entries exist is decided against a concrete library, not here.
func (s PipelineSpec) Validate() error {
	var errs []error
	if s.VertexEntry == "" {
		errs = append(errs, errors.New("vertex entry name is empty"))
	}
	if s.FragmentEntry == "" {
		errs = append(errs, errors.New("fragment entry name is empty"))
	}
	if s.Format != RGBA8Unorm && s.Format != RGBA32Float {
		errs = append(errs, fmt.Errorf("unsupported pixel format %v", s.Format))
	}
	return errors.Join(errs...)
}

func (s PipelineSpec) String() string {
	return fmt.Sprintf("%s/%s (%s)", s.VertexEntry, s.FragmentEntry, s.Format)
}
