package toolchain_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/shaderprobe/internal/toolchain"
)

func TestDefault_Validates(t *testing.T) {
	tc := toolchain.Default()
	require.NoError(t, tc.Validate())
	assert.Equal(t, "applegpu_", tc.FamilyPrefix)
	assert.Equal(t, "_agc.main", tc.StubMarker)
	assert.Equal(t, "-thin", tc.ThinSuffix)
	assert.Len(t, tc.Environment, 2)
}

func TestRender_DefaultCommands(t *testing.T) {
	tc := toolchain.Default()

	tests := []struct {
		cmd  toolchain.Command
		args toolchain.Args
		want string
	}{
		{
			cmd:  toolchain.CmdArchs,
			args: toolchain.Args{Archive: "/tmp/shaderprobe-ABC"},
			want: "xcrun metal-lipo -archs '/tmp/shaderprobe-ABC'",
		},
		{
			cmd:  toolchain.CmdThin,
			args: toolchain.Args{Arch: "applegpu_g13g", Archive: "/tmp/a", Thin: "/tmp/a-thin"},
			want: "xcrun metal-lipo -thin 'applegpu_g13g' '/tmp/a' -o '/tmp/a-thin'",
		},
		{
			cmd:  toolchain.CmdSymbols,
			args: toolchain.Args{Thin: "/tmp/a-thin"},
			want: "xcrun metal-nm '/tmp/a-thin'",
		},
		{
			cmd:  toolchain.CmdDisassemble,
			args: toolchain.Args{Binary: "/tmp/a-thin", Offset: "0x12a0", Disassembler: "/opt/applegpu/disassemble.py"},
			want: "python3 '/opt/applegpu/disassemble.py' '/tmp/a-thin' '0x12a0'",
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			got, err := tc.Render(tt.cmd, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_FillsDisassembler(t *testing.T) {
	tc := toolchain.Default()
	tc.Disassembler = "/x/dis.py"

	got, err := tc.Render(toolchain.CmdDisassemble, toolchain.Args{Binary: "b", Offset: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "python3 '/x/dis.py' 'b' '0x1'", got)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, toolchain.Quote("plain"))
	assert.Equal(t, `'it'\''s'`, toolchain.Quote("it's"))
	assert.Equal(t, `'$(rm -rf /)'`, toolchain.Quote("$(rm -rf /)"))
}

func TestParse_OverlaysDefault(t *testing.T) {
	tc, err := toolchain.Parse([]byte(`
family_prefix: applegpu_g14
symbols: "llvm-nm {{quote .Thin}}"
environment: []
`))
	require.NoError(t, err)
	assert.Equal(t, "applegpu_g14", tc.FamilyPrefix)
	assert.Empty(t, tc.Environment)
	assert.Equal(t, toolchain.Default().Archs, tc.Archs)

	got, err := tc.Render(toolchain.CmdSymbols, toolchain.Args{Thin: "t"})
	require.NoError(t, err)
	assert.Equal(t, "llvm-nm 't'", got)
}

func TestParse_Empty(t *testing.T) {
	tc, err := toolchain.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, toolchain.Default().Thin, tc.Thin)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "disasembler: typo.py\n",
		"bad template":   "thin: \"lipo {{.Arch\"\n",
		"empty command":  "readobj: \"\"\n",
		"unknown layout": "symbol_layout: objdump-v9\n",
		"empty marker":   "stub_marker: \"\"\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := toolchain.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRender_MissingField(t *testing.T) {
	tc := toolchain.Default()
	tc.Thin = "lipo {{.Nope}}"
	_, err := tc.Render(toolchain.CmdThin, toolchain.Args{})
	assert.Error(t, err)
}

func TestLoad_RoundTrip(t *testing.T) {
	orig := toolchain.Default()
	orig.StubMarker = "_agc.main.custom"
	data, err := orig.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "toolchain.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := toolchain.Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig, loaded)
}

func TestLayout(t *testing.T) {
	l, err := toolchain.Default().Layout()
	require.NoError(t, err)
	assert.Equal(t, toolchain.Layout{Name: toolchain.LayoutNMv1, AddressField: 0, NameField: 2, MinFields: 3}, l)
}
