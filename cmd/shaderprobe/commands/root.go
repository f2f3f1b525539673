// Package commands implements the shaderprobe command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/app"
	"github.com/gogpu/shaderprobe/internal/disasm"
	"github.com/gogpu/shaderprobe/internal/gpu"
	"github.com/gogpu/shaderprobe/internal/introspect"
	"github.com/gogpu/shaderprobe/internal/library"
	"github.com/gogpu/shaderprobe/internal/toolchain"
)

// Stages is the part of app.Probe the commands drive.
type Stages interface {
	Run(ctx context.Context) error
	Environment(ctx context.Context) error
	Harvest(ctx context.Context) error
	Introspect(ctx context.Context) (*introspect.Result, error)
	Disassemble(ctx context.Context) (*disasm.Transcript, error)
	Execute(ctx context.Context) (*gpu.Grid, error)
	Archive() shaderprobe.ArchivePath
}

// Factory builds the Stages of one invocation from the options the flags
// produce.
type Factory func(opts ...app.Option) Stages

// DefaultFactory builds a real app.Probe.
func DefaultFactory(opts ...app.Option) Stages { return app.New(opts...) }

// CLI represents the shaderprobe command line interface.
type CLI struct {
	factory Factory
	rootCmd *cobra.Command
	flags   flags
}

type flags struct {
	toolchain      string
	archive        string
	format         string
	topology       string
	vertex         string
	fragment       string
	scratch        bool
	expect         string
	golden         string
	writeGolden    bool
	compareDefault bool
	determinism    bool
	png            string
	pngScale       int
	commandTimeout time.Duration
	gpuTimeout     time.Duration
	verbose        bool
}

// New creates a CLI whose commands obtain their stages from factory.
func New(factory Factory) *CLI {
	if factory == nil {
		factory = DefaultFactory
	}
	rootCmd := &cobra.Command{
		Use:           "shaderprobe",
		Short:         "Harvest, disassemble and execute a GPU render pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		Args:          cobra.NoArgs,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}} (commit: %s)\n", Commit))

	c := &CLI{factory: factory, rootCmd: rootCmd}
	rootCmd.RunE = c.stage(func(ctx context.Context, s Stages, _ *cobra.Command) error {
		return s.Run(ctx)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.flags.toolchain, "toolchain", "", "YAML file overriding the default toolchain")
	pf.StringVar(&c.flags.archive, "archive", "", "archive path (default: a fresh random path under the temp directory)")
	pf.StringVar(&c.flags.format, "format", shaderprobe.RGBA8Unorm.String(), "color attachment format: rgba8unorm or rgba32float")
	pf.StringVar(&c.flags.topology, "topology", shaderprobe.TriangleStrip.String(), "draw topology: triangle-strip or point")
	pf.StringVar(&c.flags.vertex, "vertex", shaderprobe.DefaultVertexEntry, "vertex entry point")
	pf.StringVar(&c.flags.fragment, "fragment", shaderprobe.DefaultFragmentEntry, "fragment entry point")
	pf.BoolVar(&c.flags.scratch, "scratch", false, "bind the scratch buffer and use the scratch fragment entry")
	pf.StringVar(&c.flags.expect, "expect", "", "expected texel as r,g,b,a in the format's native units")
	pf.StringVar(&c.flags.golden, "golden", "", "golden disassembly transcript to compare against")
	pf.BoolVar(&c.flags.writeGolden, "write-golden", false, "write the golden transcript instead of comparing")
	pf.BoolVar(&c.flags.compareDefault, "compare-default", false, "require the grid to match the in-process library's")
	pf.BoolVar(&c.flags.determinism, "determinism", false, "disassemble every symbol twice and require identical output")
	pf.StringVar(&c.flags.png, "png", "", "write the read back grid as an upscaled PNG")
	pf.IntVar(&c.flags.pngScale, "png-scale", app.DefaultPNGScale, "PNG upscaling factor")
	pf.DurationVar(&c.flags.commandTimeout, "command-timeout", 0, "timeout per external command, 0 for none")
	pf.DurationVar(&c.flags.gpuTimeout, "gpu-timeout", 0, "timeout for GPU completion, 0 for none")
	pf.BoolVarP(&c.flags.verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(c.newHarvestCmd())
	rootCmd.AddCommand(c.newIntrospectCmd())
	rootCmd.AddCommand(c.newDisasmCmd())
	rootCmd.AddCommand(c.newExecuteCmd())
	rootCmd.AddCommand(c.newToolchainCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// stage adapts a stage function into a cobra RunE that first turns the
// flags into a configured Stages.
func (c *CLI) stage(fn func(context.Context, Stages, *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if c.flags.verbose {
			shaderprobe.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		opts, err := c.options(cmd)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), c.factory(opts...), cmd)
	}
}

// requireArchive rejects single-stage commands that have nothing to read.
func (c *CLI) requireArchive() error {
	if c.flags.archive == "" {
		return fmt.Errorf("--archive is required for this command")
	}
	return nil
}

func (c *CLI) loadToolchain() (*toolchain.Toolchain, error) {
	if c.flags.toolchain == "" {
		return toolchain.Default(), nil
	}
	return toolchain.Load(c.flags.toolchain)
}

// options converts the parsed flags of cmd into probe options.
func (c *CLI) options(cmd *cobra.Command) ([]app.Option, error) {
	tc, err := c.loadToolchain()
	if err != nil {
		return nil, err
	}
	format, err := shaderprobe.ParsePixelFormat(c.flags.format)
	if err != nil {
		return nil, err
	}
	topology, err := shaderprobe.ParseTopology(c.flags.topology)
	if err != nil {
		return nil, err
	}
	if c.flags.commandTimeout < 0 || c.flags.gpuTimeout < 0 {
		return nil, fmt.Errorf("timeouts must not be negative")
	}

	spec := shaderprobe.PipelineSpec{VertexEntry: c.flags.vertex, FragmentEntry: c.flags.fragment, Format: format}
	cfg := gpu.DefaultConfig()
	cfg.Topology = topology
	cfg.Timeout = c.flags.gpuTimeout
	if c.flags.scratch {
		if cmd.Flags().Changed("fragment") {
			return nil, fmt.Errorf("--scratch selects the %s entry and cannot be combined with --fragment", library.ScratchFragmentEntry)
		}
		cfg.BindScratch = true
		spec.FragmentEntry = library.ScratchFragmentEntry
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	opts := []app.Option{
		app.WithOutput(cmd.OutOrStdout()),
		app.WithToolchain(tc),
		app.WithSpec(spec),
		app.WithExecConfig(cfg),
		app.WithCommandTimeout(c.flags.commandTimeout),
		app.WithCompareDefault(c.flags.compareDefault),
		app.WithDeterminismCheck(c.flags.determinism),
	}
	if c.flags.archive != "" {
		opts = append(opts, app.WithArchive(shaderprobe.ArchivePath(c.flags.archive)))
	}
	if c.flags.expect != "" {
		want, err := parseExpect(c.flags.expect)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithExpect(want))
	}
	if c.flags.golden != "" {
		opts = append(opts, app.WithGolden(c.flags.golden, c.flags.writeGolden))
	} else if c.flags.writeGolden {
		return nil, fmt.Errorf("--write-golden needs --golden")
	}
	if c.flags.png != "" {
		opts = append(opts, app.WithPNG(c.flags.png, c.flags.pngScale))
	}
	return opts, nil
}

// parseExpect parses "r,g,b,a". A single value applies to all channels.
func parseExpect(s string) ([4]float64, error) {
	var want [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != 4 {
		return want, fmt.Errorf("invalid --expect %q: want r,g,b,a", s)
	}
	for i := range want {
		p := parts[0]
		if len(parts) == 4 {
			p = parts[i]
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return want, fmt.Errorf("invalid --expect %q: %w", s, err)
		}
		want[i] = v
	}
	return want, nil
}
