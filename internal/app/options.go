package app

import (
	"io"
	"os"
	"time"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/gpu"
	"github.com/gogpu/shaderprobe/internal/shell"
	"github.com/gogpu/shaderprobe/internal/toolchain"
)

// Option configures a Probe during creation.
//
// Example:
//
//	p := app.New(
//	    app.WithArchive(shaderprobe.NewArchivePath("")),
//	    app.WithExpect([4]float64{255, 255, 255, 255}),
//	)
type Option func(*probeOptions)

// probeOptions holds optional configuration for Probe creation.
type probeOptions struct {
	runner         shell.Runner
	toolchain      *toolchain.Toolchain
	out            io.Writer
	spec           shaderprobe.PipelineSpec
	archive        shaderprobe.ArchivePath
	openDevice     func() (*gpu.Device, error)
	exec           gpu.Config
	commandTimeout time.Duration
	expect         *[4]float64
	golden         string
	writeGolden    bool
	compareDefault bool
	determinism    bool
	pngPath        string
	pngScale       int
}

// defaultOptions returns the default probe options.
func defaultOptions() probeOptions {
	return probeOptions{
		toolchain:  toolchain.Default(),
		out:        os.Stdout,
		spec:       shaderprobe.DefaultPipelineSpec(),
		openDevice: gpu.OpenDevice,
		exec:       gpu.DefaultConfig(),
		pngScale:   DefaultPNGScale,
	}
}

// WithRunner replaces the /bin/sh executor, typically with a fake in tests.
func WithRunner(r shell.Runner) Option {
	return func(o *probeOptions) { o.runner = r }
}

// WithToolchain sets the toolchain contract.
func WithToolchain(tc *toolchain.Toolchain) Option {
	return func(o *probeOptions) { o.toolchain = tc }
}

// WithOutput sets the console transcript writer (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(o *probeOptions) { o.out = w }
}

// WithSpec sets the pipeline under test.
func WithSpec(spec shaderprobe.PipelineSpec) Option {
	return func(o *probeOptions) { o.spec = spec }
}

// WithArchive fixes the archive path instead of generating one under the
// OS temp directory.
func WithArchive(p shaderprobe.ArchivePath) Option {
	return func(o *probeOptions) { o.archive = p }
}

// WithDeviceOpener sets how the executor obtains its GPU device.
func WithDeviceOpener(open func() (*gpu.Device, error)) Option {
	return func(o *probeOptions) { o.openDevice = open }
}

// WithExecConfig sets the executor configuration.
func WithExecConfig(cfg gpu.Config) Option {
	return func(o *probeOptions) { o.exec = cfg }
}

// WithCommandTimeout bounds every external command. Ignored when
// WithRunner is used.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *probeOptions) { o.commandTimeout = d }
}

// WithExpect requires every texel to equal c, in the pixel format's native
// units.
func WithExpect(c [4]float64) Option {
	return func(o *probeOptions) { o.expect = &c }
}

// WithGolden compares the disassembly against the transcript at path, or
// writes it there when write is true.
func WithGolden(path string, write bool) Option {
	return func(o *probeOptions) {
		o.golden = path
		o.writeGolden = write
	}
}

// WithCompareDefault re-runs the pipeline from the in-process library and
// requires an identical grid.
func WithCompareDefault(on bool) Option {
	return func(o *probeOptions) { o.compareDefault = on }
}

// WithDeterminismCheck disassembles every symbol twice and requires
// byte-identical output.
func WithDeterminismCheck(on bool) Option {
	return func(o *probeOptions) { o.determinism = on }
}

// WithPNG writes the read back grid to path, upscaled by scale.
func WithPNG(path string, scale int) Option {
	return func(o *probeOptions) {
		o.pngPath = path
		if scale > 0 {
			o.pngScale = scale
		}
	}
}
