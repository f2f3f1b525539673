// Package harvest builds the render pipeline into an on-disk binary archive.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/library"
	"github.com/gogpu/shaderprobe/internal/shell"
	"github.com/gogpu/shaderprobe/internal/toolchain"
)

// Intermediate files written next to the archive.
const (
	SourceSuffix  = ".metal"
	AIRSuffix     = ".air"
	LibrarySuffix = ".metallib"
	ScriptSuffix  = ".mtlp-json"
)

// Descriptor is the render pipeline registered with the archive.
type Descriptor struct {
	Spec     shaderprobe.PipelineSpec
	Topology shaderprobe.Topology
	// VertexFunction and FragmentFunction are the names in the translated
	// Metal library.
	VertexFunction   string
	FragmentFunction string
}

// Harvester compiles the pipeline with the platform toolchain and serializes
// it to a binary archive.
type Harvester struct {
	runner   shell.Runner
	tc       *toolchain.Toolchain
	lib      *library.Library
	topology shaderprobe.Topology
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithLibrary replaces the embedded default library.
func WithLibrary(lib *library.Library) Option {
	return func(h *Harvester) { h.lib = lib }
}

// WithTopology sets the primitive topology recorded in the pipeline.
// The default is TriangleStrip.
func WithTopology(t shaderprobe.Topology) Option {
	return func(h *Harvester) { h.topology = t }
}

// New creates a Harvester.
func New(runner shell.Runner, tc *toolchain.Toolchain, opts ...Option) *Harvester {
	h := &Harvester{runner: runner, tc: tc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest resolves the entries of spec, builds the archive at out and writes
// the portable library of the same pipeline to out + the toolchain's
// library suffix.
func (h *Harvester) Harvest(ctx context.Context, spec shaderprobe.PipelineSpec, out shaderprobe.ArchivePath) error {
	log := shaderprobe.Logger()

	if err := spec.Validate(); err != nil {
		return &shaderprobe.CompileError{Library: library.DefaultName, Err: err}
	}
	lib := h.lib
	if lib == nil {
		var err error
		if lib, err = library.Default(); err != nil {
			return err
		}
	}
	if _, _, err := lib.Resolve(spec); err != nil {
		return err
	}

	translated, err := lib.MSL(spec, h.topology == shaderprobe.Point)
	if err != nil {
		return err
	}
	desc := Descriptor{
		Spec:             spec,
		Topology:         h.topology,
		VertexFunction:   translated.Vertex,
		FragmentFunction: translated.Fragment,
	}
	log.Debug("harvest: pipeline descriptor", "spec", spec.String(), "topology", h.topology.String(),
		"vertex", desc.VertexFunction, "fragment", desc.FragmentFunction)

	args := toolchain.Args{
		Source:  out.Derive(SourceSuffix),
		AIR:     out.Derive(AIRSuffix),
		Library: out.Derive(LibrarySuffix),
		Script:  out.Derive(ScriptSuffix),
		Archive: out.String(),
	}

	if err := writeFile(args.Source, []byte(translated.Source)); err != nil {
		return err
	}
	if err := h.run(ctx, toolchain.CmdCompile, args); err != nil {
		return err
	}
	if err := h.run(ctx, toolchain.CmdLink, args); err != nil {
		return err
	}
	script, err := pipelineScript(desc, args.Library)
	if err != nil {
		return &shaderprobe.SerializationError{Path: args.Script, Err: err}
	}
	if err := writeFile(args.Script, script); err != nil {
		return err
	}
	if err := h.run(ctx, toolchain.CmdArchive, args); err != nil {
		return err
	}

	if err := checkArchive(out.String()); err != nil {
		return err
	}
	if err := lib.WriteSPIRV(out.Derive(h.tc.LibrarySuffix)); err != nil {
		return err
	}
	log.Info("harvest: archive written", "path", out.String())
	return nil
}

func (h *Harvester) run(ctx context.Context, c toolchain.Command, args toolchain.Args) error {
	cmd, err := h.tc.Render(c, args)
	if err != nil {
		return err
	}
	_, err = h.runner.Run(ctx, cmd)
	return err
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // build artifacts are not secret
		return &shaderprobe.SerializationError{Path: path, Err: err}
	}
	return nil
}

// checkArchive verifies the archive tool left a non-empty file at path.
// The tool's exit status is not trusted.
func checkArchive(path string) error {
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		return &shaderprobe.SerializationError{Path: path, Err: err}
	case fi.IsDir():
		return &shaderprobe.SerializationError{Path: path, Err: errors.New("archive path is a directory")}
	case fi.Size() == 0:
		return &shaderprobe.SerializationError{Path: path, Err: errors.New("archive is empty")}
	}
	return nil
}

type scriptLibraries struct {
	Paths []scriptPath `json:"paths"`
}

type scriptPath struct {
	Path string `json:"path"`
}

type scriptAttachment struct {
	PixelFormat string `json:"pixel_format"`
}

type scriptRenderPipeline struct {
	Label            string             `json:"label"`
	VertexFunction   string             `json:"vertex_function"`
	FragmentFunction string             `json:"fragment_function"`
	Topology         string             `json:"input_primitive_topology"`
	ColorAttachments []scriptAttachment `json:"color_attachments"`
}

type script struct {
	Libraries scriptLibraries `json:"libraries"`
	Pipelines struct {
		RenderPipelines []scriptRenderPipeline `json:"render_pipelines"`
	} `json:"pipelines"`
}

func pipelineScript(desc Descriptor, metallib string) ([]byte, error) {
	pf, err := metalPixelFormat(desc.Spec.Format)
	if err != nil {
		return nil, err
	}
	var s script
	s.Libraries.Paths = []scriptPath{{Path: metallib}}
	s.Pipelines.RenderPipelines = []scriptRenderPipeline{{
		Label:            desc.Spec.String(),
		VertexFunction:   desc.VertexFunction,
		FragmentFunction: desc.FragmentFunction,
		Topology:         metalTopology(desc.Topology),
		ColorAttachments: []scriptAttachment{{PixelFormat: pf}},
	}}
	return json.MarshalIndent(s, "", "  ")
}

func metalPixelFormat(f shaderprobe.PixelFormat) (string, error) {
	switch f {
	case shaderprobe.RGBA8Unorm:
		return "RGBA8Unorm", nil
	case shaderprobe.RGBA32Float:
		return "RGBA32Float", nil
	}
	return "", fmt.Errorf("no Metal pixel format for %v", f)
}

func metalTopology(t shaderprobe.Topology) string {
	if t == shaderprobe.Point {
		return "point"
	}
	return "triangle"
}
