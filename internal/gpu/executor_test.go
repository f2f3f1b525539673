package gpu

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/library"
)

// openNoopDevice opens a device on the noop backend for testing.
func openNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := OpenWith(noop.API{})
	if err != nil {
		t.Fatalf("OpenWith(noop) failed: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestExecute_DefaultSource(t *testing.T) {
	d := openNoopDevice(t)

	grid, err := d.Execute(context.Background(), DefaultSource(), shaderprobe.DefaultPipelineSpec(), DefaultConfig())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if grid.Width != DefaultWidth || grid.Height != DefaultHeight {
		t.Errorf("grid size = %dx%d, want %dx%d", grid.Width, grid.Height, DefaultWidth, DefaultHeight)
	}
	if len(grid.U8) != DefaultWidth*DefaultHeight || grid.F32 != nil {
		t.Errorf("expected %d uint8 texels and no float texels", DefaultWidth*DefaultHeight)
	}
}

func TestExecute_Configurations(t *testing.T) {
	d := openNoopDevice(t)

	tests := []struct {
		name string
		spec shaderprobe.PipelineSpec
		cfg  Config
	}{
		{"point", shaderprobe.DefaultPipelineSpec(), Config{Topology: shaderprobe.Point}},
		{
			"scratch",
			shaderprobe.PipelineSpec{VertexEntry: "main_vertex", FragmentEntry: library.ScratchFragmentEntry, Format: shaderprobe.RGBA8Unorm},
			Config{BindScratch: true},
		},
		{
			"float target",
			shaderprobe.PipelineSpec{VertexEntry: "main_vertex", FragmentEntry: "main_fragment", Format: shaderprobe.RGBA32Float},
			Config{Width: 8, Height: 2, Clear: gputypes.Color{A: 1}, Timeout: time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, err := d.Execute(context.Background(), DefaultSource(), tt.spec, tt.cfg)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if grid.Format != tt.spec.Format {
				t.Errorf("grid format = %v, want %v", grid.Format, tt.spec.Format)
			}
			if got := grid.Width * grid.Height; got != len(grid.U8)+len(grid.F32) {
				t.Errorf("grid has %d texels, want %d", len(grid.U8)+len(grid.F32), got)
			}
		})
	}
}

func TestExecute_ArchiveSource(t *testing.T) {
	d := openNoopDevice(t)

	lib, err := library.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	archive := shaderprobe.NewArchivePath(t.TempDir())
	if err := lib.WriteSPIRV(archive.Derive(".spv")); err != nil {
		t.Fatalf("WriteSPIRV: %v", err)
	}

	src := ArchiveSource(archive, ".spv")
	if src.String() != archive.Derive(".spv") {
		t.Errorf("Source.String() = %q", src.String())
	}
	if _, err := d.Execute(context.Background(), src, shaderprobe.DefaultPipelineSpec(), DefaultConfig()); err != nil {
		t.Fatalf("Execute from harvested library failed: %v", err)
	}
}

func TestExecute_MissingLibrary(t *testing.T) {
	d := openNoopDevice(t)

	src := ArchiveSource(shaderprobe.ArchivePath(filepath.Join(t.TempDir(), "absent")), ".spv")
	_, err := d.Execute(context.Background(), src, shaderprobe.DefaultPipelineSpec(), DefaultConfig())

	var pce *shaderprobe.PipelineCompileError
	if !errors.As(err, &pce) {
		t.Fatalf("error = %v, want *PipelineCompileError", err)
	}
}

func TestExecute_MissingEntry(t *testing.T) {
	d := openNoopDevice(t)

	spec := shaderprobe.DefaultPipelineSpec()
	spec.FragmentEntry = "absent_fragment"
	_, err := d.Execute(context.Background(), DefaultSource(), spec, DefaultConfig())

	var pce *shaderprobe.PipelineCompileError
	if !errors.As(err, &pce) {
		t.Fatalf("error = %v, want *PipelineCompileError", err)
	}
	var ce *shaderprobe.CompileError
	if !errors.As(err, &ce) || ce.Entry != "absent_fragment" {
		t.Errorf("wrapped CompileError = %+v", ce)
	}
	if pce.Source != library.DefaultName {
		t.Errorf("Source = %q, want %q", pce.Source, library.DefaultName)
	}
}

func TestExecute_LibrarySource(t *testing.T) {
	d := openNoopDevice(t)

	lib, err := library.Compile("custom", library.DefaultSource())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := d.Execute(context.Background(), LibrarySource(lib), shaderprobe.DefaultPipelineSpec(), DefaultConfig()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

func TestExecute_ClosedDevice(t *testing.T) {
	d, err := OpenWith(noop.API{})
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	d.Close()
	if _, err := d.Execute(context.Background(), DefaultSource(), shaderprobe.DefaultPipelineSpec(), DefaultConfig()); err == nil {
		t.Fatal("Execute on closed device succeeded")
	}
}

type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *halProvider) Device() gpucontext.Device             { return nil }
func (p *halProvider) Queue() gpucontext.Queue               { return nil }
func (p *halProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatRGBA8Unorm }
func (p *halProvider) HalDevice() any                        { return p.device }
func (p *halProvider) HalQueue() any                         { return p.queue }

type plainProvider struct{ halProvider }

func (p *plainProvider) HalDevice() {}

func TestDeviceFromProvider(t *testing.T) {
	owner := openNoopDevice(t)

	shared, err := DeviceFromProvider(&halProvider{device: owner.device, queue: owner.queue})
	if err != nil {
		t.Fatalf("DeviceFromProvider: %v", err)
	}
	if _, err := shared.Execute(context.Background(), DefaultSource(), shaderprobe.DefaultPipelineSpec(), DefaultConfig()); err != nil {
		t.Fatalf("Execute on shared device: %v", err)
	}
	shared.Close()
	if owner.device == nil {
		t.Fatal("closing a shared device released the owner's device")
	}

	if _, err := DeviceFromProvider(&plainProvider{}); err == nil {
		t.Error("provider without HAL accessors accepted")
	}
	if _, err := DeviceFromProvider(&halProvider{}); err == nil {
		t.Error("provider with nil HAL device accepted")
	}
}

func TestAlignedRowBytes(t *testing.T) {
	tests := []struct {
		width uint32
		pf    shaderprobe.PixelFormat
		want  uint32
	}{
		{4, shaderprobe.RGBA8Unorm, 256},
		{4, shaderprobe.RGBA32Float, 256},
		{64, shaderprobe.RGBA8Unorm, 256},
		{65, shaderprobe.RGBA8Unorm, 512},
		{17, shaderprobe.RGBA32Float, 512},
	}
	for _, tt := range tests {
		if got := alignedRowBytes(tt.width, tt.pf); got != tt.want {
			t.Errorf("alignedRowBytes(%d, %v) = %d, want %d", tt.width, tt.pf, got, tt.want)
		}
	}
}

func TestPrimitiveTopology(t *testing.T) {
	if primitiveTopology(shaderprobe.Point) != gputypes.PrimitiveTopologyPointList {
		t.Error("Point should map to point list")
	}
	if primitiveTopology(shaderprobe.TriangleStrip) != gputypes.PrimitiveTopologyTriangleStrip {
		t.Error("TriangleStrip should map to triangle strip")
	}
}
