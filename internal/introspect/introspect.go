// Package introspect inspects a harvested binary archive: it selects the
// target GPU architecture slice, thins the archive to that slice and lists
// the shader entry stubs in the thinned binary's symbol table.
package introspect

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/shell"
	"github.com/gogpu/shaderprobe/internal/toolchain"
)

// Result is the outcome of one introspection.
type Result struct {
	Arch    shaderprobe.ArchitectureSlice
	Thin    string
	Symbols []shaderprobe.ShaderSymbol
}

// Introspector runs the toolchain inspection commands against one archive.
type Introspector struct {
	runner shell.Runner
	tc     *toolchain.Toolchain
}

// New creates an Introspector.
func New(runner shell.Runner, tc *toolchain.Toolchain) *Introspector {
	return &Introspector{runner: runner, tc: tc}
}

// Introspect dumps the archive metadata, thins the archive to the first
// slice of the toolchain's GPU family and returns the entry stubs of the
// thinned binary in symbol-table order. Zero matching symbols is not an
// error.
func (in *Introspector) Introspect(ctx context.Context, archive shaderprobe.ArchivePath) (*Result, error) {
	log := shaderprobe.Logger()
	layout, err := in.tc.Layout()
	if err != nil {
		return nil, err
	}

	args := toolchain.Args{
		Archive: archive.String(),
		Thin:    archive.Derive(in.tc.ThinSuffix),
	}

	// Metadata is printed for inspection only.
	if _, err := in.run(ctx, toolchain.CmdReadObj, args); err != nil {
		return nil, err
	}

	archs, err := in.run(ctx, toolchain.CmdArchs, args)
	if err != nil {
		return nil, err
	}
	arch, err := SelectArchitecture(archs, in.tc.FamilyPrefix)
	if err != nil {
		return nil, err
	}
	args.Arch = string(arch)
	log.Info("introspect: architecture selected", "arch", arch)

	if _, err := in.run(ctx, toolchain.CmdThin, args); err != nil {
		return nil, err
	}
	if err := checkThin(args.Thin); err != nil {
		return nil, err
	}

	dump, err := in.run(ctx, toolchain.CmdSymbols, args)
	if err != nil {
		return nil, err
	}
	symbols, err := ParseSymbols(dump, in.tc.StubMarker, layout)
	if err != nil {
		return nil, err
	}
	log.Info("introspect: symbols parsed", "thin", args.Thin, "count", len(symbols))

	return &Result{Arch: arch, Thin: args.Thin, Symbols: symbols}, nil
}

func (in *Introspector) run(ctx context.Context, c toolchain.Command, args toolchain.Args) (string, error) {
	cmd, err := in.tc.Render(c, args)
	if err != nil {
		return "", err
	}
	return in.runner.Run(ctx, cmd)
}

// SelectArchitecture returns the first whitespace-separated token of output
// that starts with prefix.
func SelectArchitecture(output, prefix string) (shaderprobe.ArchitectureSlice, error) {
	tokens := strings.Fields(output)
	for _, tok := range tokens {
		if strings.HasPrefix(tok, prefix) {
			return shaderprobe.ArchitectureSlice(tok), nil
		}
	}
	return "", &shaderprobe.ArchitectureNotFoundError{Prefix: prefix, Available: tokens}
}

// ParseSymbols keeps the lines of a symbol dump that contain marker, in
// their original order, and splits each one according to layout.
func ParseSymbols(dump, marker string, layout toolchain.Layout) ([]shaderprobe.ShaderSymbol, error) {
	symbols := []shaderprobe.ShaderSymbol{}
	for _, line := range strings.Split(dump, "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < layout.MinFields {
			return nil, &shaderprobe.SymbolParseError{Line: line, Fields: len(fields), Want: layout.MinFields}
		}
		addr, ok := hexAddress(fields[layout.AddressField])
		if !ok {
			return nil, &shaderprobe.SymbolParseError{
				Line: line, Fields: len(fields), Want: layout.MinFields,
				Reason: fmt.Sprintf("address %q is not hexadecimal", fields[layout.AddressField]),
			}
		}
		symbols = append(symbols, shaderprobe.NewShaderSymbol(addr, fields[layout.NameField]))
	}
	return symbols, nil
}

// hexAddress returns tok without an optional 0x prefix if the rest is a
// non-empty run of hex digits.
func hexAddress(tok string) (string, bool) {
	if len(tok) > 2 && (tok[:2] == "0x" || tok[:2] == "0X") {
		tok = tok[2:]
	}
	if tok == "" || strings.TrimLeft(tok, "0123456789abcdefABCDEF") != "" {
		return "", false
	}
	return tok, true
}

func checkThin(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("introspect: thinned binary missing: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("introspect: thinned binary %s is empty", path)
	}
	return nil
}
