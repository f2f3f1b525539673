// Package disasm drives the external disassembler over every entry stub of a
// thinned binary and records what it printed.
package disasm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/shell"
	"github.com/gogpu/shaderprobe/internal/toolchain"
)

// Driver runs the toolchain's disassemble command once per symbol.
type Driver struct {
	runner shell.Runner
	tc     *toolchain.Toolchain
	out    io.Writer
}

// New creates a Driver that prints symbol headers to out.
func New(runner shell.Runner, tc *toolchain.Toolchain, out io.Writer) *Driver {
	if out == nil {
		out = io.Discard
	}
	return &Driver{runner: runner, tc: tc, out: out}
}

// Disassemble disassembles each symbol of thin in the order given. An empty
// symbol list yields an empty transcript.
func (d *Driver) Disassemble(ctx context.Context, thin string, symbols []shaderprobe.ShaderSymbol) (*Transcript, error) {
	t := &Transcript{Binary: thin, Entries: make([]Entry, 0, len(symbols))}
	for _, sym := range symbols {
		_, _ = fmt.Fprintf(d.out, "%s\n%s\n", sym.DisplayName, Rule(sym.DisplayName))

		cmd, err := d.tc.Render(toolchain.CmdDisassemble, toolchain.Args{Binary: thin, Offset: sym.Offset()})
		if err != nil {
			return nil, err
		}
		output, err := d.runner.Run(ctx, cmd)
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, newEntry(sym, output))
	}
	shaderprobe.Logger().Debug("disasm: transcript recorded", "binary", thin, "entries", len(t.Entries))
	return t, nil
}

// CheckDeterminism disassembles the symbols of first again and requires
// byte-identical output for every one of them.
func (d *Driver) CheckDeterminism(ctx context.Context, first *Transcript) error {
	symbols := make([]shaderprobe.ShaderSymbol, len(first.Entries))
	for i, e := range first.Entries {
		symbols[i] = shaderprobe.NewShaderSymbol(e.Address, e.Name)
	}
	second, err := d.Disassemble(ctx, first.Binary, symbols)
	if err != nil {
		return err
	}
	return second.Compare(first)
}

// Rule returns a dash rule as long as title, counted in runes.
func Rule(title string) string {
	return strings.Repeat("-", utf8.RuneCountInString(title))
}

// Digest returns the xxhash64 of output as 16 hex digits.
func Digest(output string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(output))
}

func newEntry(sym shaderprobe.ShaderSymbol, output string) Entry {
	return Entry{
		Name:    sym.RawName,
		Address: sym.Address,
		Digest:  Digest(output),
		Output:  output,
	}
}
