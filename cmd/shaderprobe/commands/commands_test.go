package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/cmd/shaderprobe/commands"
	"github.com/gogpu/shaderprobe/internal/app"
	"github.com/gogpu/shaderprobe/internal/gpu"
)

// fakeRunner stands in for the Metal toolchain.
type fakeRunner struct {
	archive  shaderprobe.ArchivePath
	commands []string
}

func (f *fakeRunner) Run(_ context.Context, cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	switch {
	case strings.Contains(cmd, "metal-tt"):
		return "", os.WriteFile(f.archive.String(), []byte("MTLB"), 0o600)
	case strings.Contains(cmd, "metal-lipo -archs"):
		return "air64 applegpu_g13g\n", nil
	case strings.Contains(cmd, "metal-lipo -thin"):
		return "", os.WriteFile(f.archive.Derive("-thin"), []byte("thin"), 0o600)
	case strings.Contains(cmd, "metal-nm"):
		return "0000000000000000 T _agc.main.vertex\n00000000000001a0 T _agc.main.fragment\n", nil
	case strings.HasPrefix(cmd, "python3"):
		return "nop\n", nil
	}
	return "", nil
}

// newCLI returns a CLI whose probes talk to a fake toolchain and a noop
// device.
func newCLI(t *testing.T, args ...string) (*commands.CLI, *fakeRunner, *bytes.Buffer) {
	t.Helper()
	f := &fakeRunner{}
	cli := commands.New(func(opts ...app.Option) commands.Stages {
		opts = append(opts,
			app.WithRunner(f),
			app.WithDeviceOpener(func() (*gpu.Device, error) { return gpu.OpenWith(noop.API{}) }),
		)
		p := app.New(opts...)
		f.archive = p.Archive()
		return p
	})
	out := new(bytes.Buffer)
	cli.SetOutput(out, out)
	// A nil slice would make cobra fall back to os.Args.
	cli.SetArgs(append([]string{}, args...))
	return cli, f, out
}

func archiveFlag(t *testing.T) string {
	return shaderprobe.NewArchivePath(t.TempDir()).String()
}

func TestCommands_Root(t *testing.T) {
	t.Run("runs every stage", func(t *testing.T) {
		pngPath := filepath.Join(t.TempDir(), "grid.png")
		cli, f, out := newCLI(t, "--archive", archiveFlag(t), "--expect", "255,255,255,255", "--png", pngPath, "--png-scale", "2")

		require.NoError(t, cli.Execute(context.Background()))
		assert.Contains(t, out.String(), app.TitleExecute)
		assert.Contains(t, out.String(), "Shader: _agc.main.fragment")
		assert.FileExists(t, pngPath)
		assert.Len(t, f.commands, 2+3+4+2)
	})

	t.Run("generates an archive path", func(t *testing.T) {
		cli, f, _ := newCLI(t)
		require.NoError(t, cli.Execute(context.Background()))
		t.Cleanup(func() {
			_ = os.Remove(f.archive.String())
			_ = os.Remove(f.archive.Derive("-thin"))
			_ = os.Remove(f.archive.Derive(".spv"))
			for _, s := range []string{".metal", ".air", ".metallib", ".mtlp-json"} {
				_ = os.Remove(f.archive.Derive(s))
			}
		})
		assert.Regexp(t, `shaderprobe-[0-9A-F]{12}$`, f.archive.String())
	})

	t.Run("scratch pipeline", func(t *testing.T) {
		cli, f, out := newCLI(t, "--archive", archiveFlag(t), "--scratch", "--gpu-timeout", "5s")
		require.NoError(t, cli.Execute(context.Background()))
		assert.FileExists(t, f.archive.Derive(".mtlp-json"))
		assert.Contains(t, out.String(), app.TitleExecute)
	})

	t.Run("golden round trip", func(t *testing.T) {
		golden := filepath.Join(t.TempDir(), "golden.yaml")
		cli, _, _ := newCLI(t, "--archive", archiveFlag(t), "--golden", golden, "--write-golden", "--determinism")
		require.NoError(t, cli.Execute(context.Background()))

		cli, _, _ = newCLI(t, "--archive", archiveFlag(t), "--golden", golden)
		require.NoError(t, cli.Execute(context.Background()))
	})

	t.Run("expect mismatch fails", func(t *testing.T) {
		cli, _, _ := newCLI(t, "--archive", archiveFlag(t), "--expect", "1")
		err := cli.Execute(context.Background())
		assert.ErrorIs(t, err, shaderprobe.ErrReadbackMismatch)
	})
}

func TestCommands_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"format", []string{"--format", "r8"}, "unknown pixel format"},
		{"topology", []string{"--topology", "lines"}, "unknown topology"},
		{"expect arity", []string{"--expect", "1,2"}, "want r,g,b,a"},
		{"expect value", []string{"--expect", "a,b,c,d"}, "invalid --expect"},
		{"write golden alone", []string{"--write-golden"}, "--write-golden needs --golden"},
		{"scratch with fragment", []string{"--scratch", "--fragment", "main_fragment"}, "cannot be combined with --fragment"},
		{"scratch with fragment on a subcommand", []string{"execute", "--archive", "/tmp/x", "--fragment", "f", "--scratch"}, "cannot be combined"},
		{"negative timeout", []string{"--command-timeout", "-1s"}, "must not be negative"},
		{"empty vertex", []string{"--vertex", ""}, "vertex entry name is empty"},
		{"missing toolchain file", []string{"--toolchain", "/nonexistent/tc.yaml"}, "tc.yaml"},
		{"positional args", []string{"extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, f, _ := newCLI(t, tt.args...)
			err := cli.Execute(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.commands)
		})
	}
}

func TestCommands_Stages(t *testing.T) {
	t.Run("harvest prints the archive", func(t *testing.T) {
		archive := archiveFlag(t)
		cli, f, out := newCLI(t, "harvest", "--archive", archive)
		require.NoError(t, cli.Execute(context.Background()))
		assert.Contains(t, out.String(), "archive: "+archive)
		assert.Len(t, f.commands, 3)
	})

	t.Run("introspect lists symbols", func(t *testing.T) {
		cli, _, out := newCLI(t, "introspect", "--archive", archiveFlag(t))
		require.NoError(t, cli.Execute(context.Background()))
		assert.Contains(t, out.String(), "architecture: applegpu_g13g")
		assert.Contains(t, out.String(), "0x00000000000001a0 _agc.main.fragment")
	})

	t.Run("disasm", func(t *testing.T) {
		cli, f, _ := newCLI(t, "disasm", "--archive", archiveFlag(t))
		require.NoError(t, cli.Execute(context.Background()))
		assert.Len(t, f.commands, 4+2)
	})

	for _, name := range []string{"introspect", "disasm", "execute"} {
		t.Run(name+" requires an archive", func(t *testing.T) {
			cli, f, _ := newCLI(t, name)
			err := cli.Execute(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "--archive is required")
			assert.Empty(t, f.commands)
		})
	}

	t.Run("execute without a harvested library", func(t *testing.T) {
		cli, _, _ := newCLI(t, "execute", "--archive", archiveFlag(t))
		var pce *shaderprobe.PipelineCompileError
		require.ErrorAs(t, cli.Execute(context.Background()), &pce)
	})
}

func TestCommands_Toolchain(t *testing.T) {
	t.Run("prints the default", func(t *testing.T) {
		cli, _, out := newCLI(t, "toolchain")
		require.NoError(t, cli.Execute(context.Background()))
		assert.Contains(t, out.String(), "family_prefix: applegpu_")
		assert.Contains(t, out.String(), "symbol_layout: nm-v1")
	})

	t.Run("applies an override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tc.yaml")
		require.NoError(t, os.WriteFile(path, []byte("family_prefix: applegpu_g15\n"), 0o600))

		cli, _, out := newCLI(t, "toolchain", "--toolchain", path)
		require.NoError(t, cli.Execute(context.Background()))
		assert.Contains(t, out.String(), "family_prefix: applegpu_g15")
	})
}

func TestCommands_Version(t *testing.T) {
	cli, _, out := newCLI(t, "version")
	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "shaderprobe version dev (commit: unknown)\n", out.String())
}

func TestCommands_Verbose(t *testing.T) {
	t.Cleanup(func() { shaderprobe.SetLogger(nil) })

	cli, _, out := newCLI(t, "harvest", "--archive", archiveFlag(t), "--verbose")
	require.NoError(t, cli.Execute(context.Background()))
	assert.Contains(t, out.String(), "level=")
}
