// Package toolchain describes the external commands shaderprobe drives.
//
// Every command is a text/template rendered into a single /bin/sh command
// line. The exact syntax is a contract with one toolchain release, so it is
// data rather than code: Default returns the Apple Metal toolchain and Load
// overlays a YAML file on top of it.
package toolchain

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Command names a templated toolchain command.
type Command string

// Toolchain commands in pipeline order.
const (
	CmdCompile     Command = "compile"
	CmdLink        Command = "link"
	CmdArchive     Command = "archive"
	CmdReadObj     Command = "readobj"
	CmdArchs       Command = "archs"
	CmdThin        Command = "thin"
	CmdSymbols     Command = "symbols"
	CmdDisassemble Command = "disassemble"
)

// Commands lists every templated command, in pipeline order.
var Commands = []Command{
	CmdCompile, CmdLink, CmdArchive, CmdReadObj, CmdArchs, CmdThin, CmdSymbols, CmdDisassemble,
}

// Toolchain holds the command templates and naming conventions of one
// platform toolchain.
type Toolchain struct {
	// Environment commands are printed for diagnostics only.
	Environment []string `yaml:"environment"`

	Compile     string `yaml:"compile"`
	Link        string `yaml:"link"`
	Archive     string `yaml:"archive"`
	ReadObj     string `yaml:"readobj"`
	Archs       string `yaml:"archs"`
	Thin        string `yaml:"thin"`
	Symbols     string `yaml:"symbols"`
	Disassemble string `yaml:"disassemble"`

	// Disassembler is the path of the external disassembler script.
	Disassembler string `yaml:"disassembler"`

	// FamilyPrefix selects the architecture slice, e.g. "applegpu_".
	FamilyPrefix string `yaml:"family_prefix"`
	// StubMarker selects entry-stub symbols, e.g. "_agc.main".
	StubMarker string `yaml:"stub_marker"`
	// SymbolLayout names the field layout of the symbol dump.
	SymbolLayout string `yaml:"symbol_layout"`

	ThinSuffix    string `yaml:"thin_suffix"`
	LibrarySuffix string `yaml:"library_suffix"`
}

// Args are the values available to command templates. Unused fields are
// simply empty.
type Args struct {
	Source       string // MSL source file
	AIR          string // compiled intermediate object
	Library      string // linked shader library
	Script       string // pipeline script describing the render pipeline
	Archive      string // binary archive
	Arch         string // selected architecture slice
	Thin         string // single-architecture binary
	Binary       string // binary handed to the disassembler
	Offset       string // 0x-prefixed byte offset for the disassembler
	Disassembler string // filled from Toolchain.Disassembler
}

// Default returns the Apple Metal toolchain: metal/metallib/metal-tt to build
// the archive, metal-readobj/metal-lipo/metal-nm to inspect it, and the
// applegpu disassemble.py script shipped next to the executable.
func Default() *Toolchain {
	return &Toolchain{
		Environment: []string{
			"xcrun --show-sdk-path",
			"xcrun xcodebuild -version",
		},
		Compile:      "xcrun -sdk macosx metal -c {{quote .Source}} -o {{quote .AIR}}",
		Link:         "xcrun -sdk macosx metallib {{quote .AIR}} -o {{quote .Library}}",
		Archive:      "xcrun -sdk macosx metal-tt {{quote .Library}} {{quote .Script}} -o {{quote .Archive}}",
		ReadObj:      "xcrun metal-readobj {{quote .Archive}}",
		Archs:        "xcrun metal-lipo -archs {{quote .Archive}}",
		Thin:         "xcrun metal-lipo -thin {{quote .Arch}} {{quote .Archive}} -o {{quote .Thin}}",
		Symbols:      "xcrun metal-nm {{quote .Thin}}",
		Disassemble:  "python3 {{quote .Disassembler}} {{quote .Binary}} {{quote .Offset}}",
		Disassembler: defaultDisassembler(),
		FamilyPrefix: "applegpu_",
		StubMarker:   "_agc.main",
		SymbolLayout: LayoutNMv1,
		ThinSuffix:   "-thin",
		// The executor cannot consume vendor archives, so the harvester
		// writes the portable library of the same pipeline next to it.
		LibrarySuffix: ".spv",
	}
}

// defaultDisassembler locates applegpu/disassemble.py next to the running
// executable, falling back to a path relative to the working directory.
func defaultDisassembler() string {
	const rel = "applegpu/disassemble.py"
	exe, err := os.Executable()
	if err != nil {
		return rel
	}
	return filepath.Join(filepath.Dir(exe), filepath.FromSlash(rel))
}

// Load reads a YAML toolchain file and overlays it on Default. Keys that do
// not belong to Toolchain are rejected.
func Load(path string) (*Toolchain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read toolchain %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML toolchain data over Default.
func Parse(data []byte) (*Toolchain, error) {
	tc := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode toolchain: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// Marshal encodes the toolchain as YAML.
func (tc *Toolchain) Marshal() ([]byte, error) {
	return yaml.Marshal(tc)
}

// Validate checks that every template parses and the symbol layout is known.
func (tc *Toolchain) Validate() error {
	var errs []error
	for _, c := range Commands {
		src := tc.source(c)
		if strings.TrimSpace(src) == "" {
			errs = append(errs, fmt.Errorf("toolchain: %s command is empty", c))
			continue
		}
		if _, err := parse(c, src); err != nil {
			errs = append(errs, err)
		}
	}
	if tc.FamilyPrefix == "" {
		errs = append(errs, errors.New("toolchain: family_prefix is empty"))
	}
	if tc.StubMarker == "" {
		errs = append(errs, errors.New("toolchain: stub_marker is empty"))
	}
	if tc.ThinSuffix == "" || tc.LibrarySuffix == "" {
		errs = append(errs, errors.New("toolchain: thin_suffix and library_suffix must be set"))
	}
	if _, err := tc.Layout(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Render renders command c with args into a shell command line.
func (tc *Toolchain) Render(c Command, args Args) (string, error) {
	tmpl, err := parse(c, tc.source(c))
	if err != nil {
		return "", err
	}
	if args.Disassembler == "" {
		args.Disassembler = tc.Disassembler
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, args); err != nil {
		return "", fmt.Errorf("toolchain: render %s: %w", c, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (tc *Toolchain) source(c Command) string {
	switch c {
	case CmdCompile:
		return tc.Compile
	case CmdLink:
		return tc.Link
	case CmdArchive:
		return tc.Archive
	case CmdReadObj:
		return tc.ReadObj
	case CmdArchs:
		return tc.Archs
	case CmdThin:
		return tc.Thin
	case CmdSymbols:
		return tc.Symbols
	case CmdDisassemble:
		return tc.Disassemble
	}
	return ""
}

func parse(c Command, src string) (*template.Template, error) {
	tmpl, err := template.New(string(c)).
		Option("missingkey=error").
		Funcs(template.FuncMap{"quote": Quote}).
		Parse(src)
	if err != nil {
		return nil, fmt.Errorf("toolchain: parse %s template: %w", c, err)
	}
	return tmpl, nil
}

// Quote single-quotes s for /bin/sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
