// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package library holds the shader library shared by the harvester and the
// pipeline executor.
//
// A Library is either compiled in-process from WGSL with naga (the default
// library embedded in this package) or loaded back from a SPIR-V file
// written by the harvester. Both expose the same entry point table so the
// executor can build the pipeline from either source.
package library

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/shaderprobe"
)

//go:embed shaders/default.wgsl
var defaultSource string

// DefaultName is the name reported for the embedded library.
const DefaultName = "default"

// ScratchFragmentEntry writes every shaded texel into the scratch buffer
// bound at group 0, binding 0.
const ScratchFragmentEntry = "scratch_fragment"

// Entry is one entry point of a library.
type Entry struct {
	Name  string
	Stage ir.ShaderStage
}

// Library is a compiled shader library.
type Library struct {
	name    string
	module  *ir.Module // nil for libraries loaded from SPIR-V
	words   []uint32
	entries []Entry
}

// Default compiles the embedded default library.
func Default() (*Library, error) {
	return Compile(DefaultName, defaultSource)
}

// DefaultSource returns the WGSL source of the embedded library.
func DefaultSource() string { return defaultSource }

// Compile parses, lowers and validates WGSL source and generates SPIR-V.
func Compile(name, source string) (*Library, error) {
	fail := func(err error) (*Library, error) {
		return nil, &shaderprobe.CompileError{Library: name, Err: err}
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return fail(err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return fail(fmt.Errorf("lower: %w", err))
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return fail(fmt.Errorf("validate: %w", err))
	}
	if len(verrs) > 0 {
		return fail(fmt.Errorf("validate: %w", verrs[0]))
	}
	code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return fail(err)
	}
	words, err := wordsFromBytes(code)
	if err != nil {
		return fail(err)
	}

	entries := make([]Entry, 0, len(module.EntryPoints))
	for _, ep := range module.EntryPoints {
		entries = append(entries, Entry{Name: ep.Name, Stage: ep.Stage})
	}
	shaderprobe.Logger().Debug("library: compiled",
		"library", name, "entries", len(entries), "spirv_words", len(words))
	return &Library{name: name, module: module, words: words, entries: entries}, nil
}

// LoadFile loads a SPIR-V library written by WriteSPIRV. Entry points are
// recovered from the module's OpEntryPoint instructions.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &shaderprobe.CompileError{Library: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes a little-endian SPIR-V binary.
func Parse(name string, data []byte) (*Library, error) {
	words, err := wordsFromBytes(data)
	if err != nil {
		return nil, &shaderprobe.CompileError{Library: name, Err: err}
	}
	entries, err := scanEntryPoints(words)
	if err != nil {
		return nil, &shaderprobe.CompileError{Library: name, Err: err}
	}
	return &Library{name: name, words: words, entries: entries}, nil
}

// Name returns "default" or the file the library was loaded from.
func (l *Library) Name() string { return l.name }

// Entries returns the entry points in module order.
func (l *Library) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Words returns the SPIR-V words. The slice must not be modified.
func (l *Library) Words() []uint32 { return l.words }

// Lookup resolves the entry point name for stage.
func (l *Library) Lookup(name string, stage ir.ShaderStage) (Entry, error) {
	for _, e := range l.entries {
		if e.Name != name {
			continue
		}
		if e.Stage != stage {
			return Entry{}, &shaderprobe.CompileError{
				Library: l.name,
				Entry:   name,
				Stage:   StageName(stage),
				Err:     fmt.Errorf("entry is a %s function", StageName(e.Stage)),
			}
		}
		return e, nil
	}
	return Entry{}, &shaderprobe.CompileError{Library: l.name, Entry: name, Stage: StageName(stage)}
}

// Resolve looks up both entries of spec.
func (l *Library) Resolve(spec shaderprobe.PipelineSpec) (vertex, fragment Entry, err error) {
	if vertex, err = l.Lookup(spec.VertexEntry, ir.StageVertex); err != nil {
		return Entry{}, Entry{}, err
	}
	if fragment, err = l.Lookup(spec.FragmentEntry, ir.StageFragment); err != nil {
		return Entry{}, Entry{}, err
	}
	return vertex, fragment, nil
}

// MSLOutput is the Metal Shading Language translation of a pipeline.
type MSLOutput struct {
	Source string
	// Vertex and Fragment are the translated function names, which is what
	// a Metal pipeline descriptor refers to.
	Vertex   string
	Fragment string
}

// MSL translates the library to Metal Shading Language and maps the entry
// points of spec to their translated names. pointSize forces a point size
// output in vertex functions, which point topology requires.
func (l *Library) MSL(spec shaderprobe.PipelineSpec, pointSize bool) (MSLOutput, error) {
	if l.module == nil {
		return MSLOutput{}, &shaderprobe.CompileError{
			Library: l.name,
			Err:     fmt.Errorf("library was loaded from SPIR-V and has no IR to translate"),
		}
	}
	vertex, fragment, err := l.Resolve(spec)
	if err != nil {
		return MSLOutput{}, err
	}

	src, info, err := msl.CompileWithPipeline(l.module, msl.DefaultOptions(), msl.PipelineOptions{
		AllowAndForcePointSize: pointSize,
	})
	if err != nil {
		return MSLOutput{}, &shaderprobe.CompileError{Library: l.name, Err: fmt.Errorf("msl: %w", err)}
	}

	out := MSLOutput{Source: src, Vertex: vertex.Name, Fragment: fragment.Name}
	if n, ok := info.EntryPointNames[vertex.Name]; ok {
		out.Vertex = n
	}
	if n, ok := info.EntryPointNames[fragment.Name]; ok {
		out.Fragment = n
	}
	return out, nil
}

// Bytes returns the SPIR-V module as little-endian bytes.
func (l *Library) Bytes() []byte {
	buf := make([]byte, 4*len(l.words))
	for i, w := range l.words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// WriteSPIRV writes the SPIR-V module to path.
func (l *Library) WriteSPIRV(path string) error {
	if err := os.WriteFile(path, l.Bytes(), 0o644); err != nil { //nolint:gosec // library is not secret
		return &shaderprobe.SerializationError{Path: path, Err: err}
	}
	return nil
}

// StageName returns the lower-case name of a shader stage.
func StageName(s ir.ShaderStage) string {
	switch s {
	case ir.StageVertex:
		return "vertex"
	case ir.StageFragment:
		return "fragment"
	case ir.StageCompute:
		return "compute"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}
