package disasm

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/shaderprobe"
)

// Entry is the captured disassembly of one symbol.
type Entry struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Digest  string `yaml:"digest"`
	Output  string `yaml:"output"`
}

// Transcript is the disassembly of every symbol of one thinned binary, in
// symbol-table order.
type Transcript struct {
	// Binary is not part of a golden file; the thinned binary lives under a
	// random temp name.
	Binary  string  `yaml:"-"`
	Entries []Entry `yaml:"entries"`
}

// Mismatch describes one symbol whose output differs from a reference.
type Mismatch struct {
	Name   string
	Reason string
}

func (m Mismatch) String() string { return m.Name + ": " + m.Reason }

// Diff compares t against want entry by entry in symbol-table order. The
// same raw name may appear at several addresses, so entries are matched by
// position rather than by name.
func (t *Transcript) Diff(want *Transcript) []Mismatch {
	var out []Mismatch
	n := max(len(t.Entries), len(want.Entries))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(t.Entries):
			out = append(out, Mismatch{Name: want.Entries[i].Name, Reason: "symbol missing"})
			continue
		case i >= len(want.Entries):
			out = append(out, Mismatch{Name: t.Entries[i].Name, Reason: "unexpected symbol"})
			continue
		}
		g, w := t.Entries[i], want.Entries[i]
		switch {
		case g.Name != w.Name:
			out = append(out,
				Mismatch{Name: w.Name, Reason: "symbol missing"},
				Mismatch{Name: g.Name, Reason: "unexpected symbol"})
		case g.Address != w.Address:
			out = append(out, Mismatch{Name: w.Name, Reason: fmt.Sprintf("address %s, want %s", g.Address, w.Address)})
		case g.Output != w.Output:
			out = append(out, Mismatch{Name: w.Name, Reason: fmt.Sprintf("digest %s, want %s (%s)", g.Digest, w.Digest, firstDifference(g.Output, w.Output))})
		}
	}
	return out
}

// Compare returns an error wrapping shaderprobe.ErrTranscriptMismatch when
// Diff is not empty.
func (t *Transcript) Compare(want *Transcript) error {
	mismatches := t.Diff(want)
	if len(mismatches) == 0 {
		return nil
	}
	lines := make([]string, len(mismatches))
	for i, m := range mismatches {
		lines[i] = m.String()
	}
	return fmt.Errorf("%w: %s", shaderprobe.ErrTranscriptMismatch, strings.Join(lines, "; "))
}

func firstDifference(got, want string) string {
	g := strings.Split(got, "\n")
	w := strings.Split(want, "\n")
	for i := 0; i < len(g) && i < len(w); i++ {
		if g[i] != w[i] {
			return fmt.Sprintf("line %d: %q, want %q", i+1, g[i], w[i])
		}
	}
	return fmt.Sprintf("%d lines, want %d", len(g), len(w))
}

// SaveGolden writes t to path as YAML.
func SaveGolden(path string, t *Transcript) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode golden transcript: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode golden transcript: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { //nolint:gosec // transcripts are not secret
		return fmt.Errorf("write golden transcript: %w", err)
	}
	return nil
}

// LoadGolden reads a transcript written by SaveGolden. Digests are
// recomputed from the stored output.
func LoadGolden(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden transcript: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var t Transcript
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode golden transcript %s: %w", path, err)
	}
	for i := range t.Entries {
		if t.Entries[i].Name == "" {
			return nil, fmt.Errorf("decode golden transcript %s: entry %d has no name", path, i)
		}
		t.Entries[i].Digest = Digest(t.Entries[i].Output)
	}
	return &t, nil
}
