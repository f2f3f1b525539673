package shaderprobe

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for checks that carry no extra detail.
var (
	// ErrReadbackMismatch is returned when rendered texels differ from the
	// expected color or from the in-process reference run.
	ErrReadbackMismatch = errors.New("shaderprobe: readback mismatch")

	// ErrTranscriptMismatch is returned when disassembly output differs
	// between two runs or from a golden transcript.
	ErrTranscriptMismatch = errors.New("shaderprobe: disassembly transcript mismatch")

	// ErrNoAdapter is returned when no GPU adapter can be opened.
	ErrNoAdapter = errors.New("shaderprobe: no GPU adapter available")
)

// ProcessError reports that an external command could not be launched.
// A command that runs and exits non-zero is not a ProcessError.
type ProcessError struct {
	Command string
	Err     error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("run %q: %v", e.Command, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// CompileError reports that a named entry point is missing from a shader
// library, or that the library itself could not be compiled.
type CompileError struct {
	Library string
	Entry   string
	Stage   string
	Err     error
}

func (e *CompileError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("compile library %s: %v", e.Library, e.Err)
	}
	msg := fmt.Sprintf("%s entry point %q not found in library %s", e.Stage, e.Entry, e.Library)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// SerializationError reports that the binary archive (or one of its
// companion files) could not be written.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize archive %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ArchitectureNotFoundError reports that no slice of the archive belongs to
// the target GPU family. It indicates an incompatible archive or toolchain
// and is never retried.
type ArchitectureNotFoundError struct {
	Prefix    string
	Available []string
}

func (e *ArchitectureNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no architecture with prefix %q: archive lists no architectures", e.Prefix)
	}
	return fmt.Sprintf("no architecture with prefix %q among [%s]", e.Prefix, strings.Join(e.Available, " "))
}

// SymbolParseError reports a symbol-table line that does not fit the
// configured layout: too few fields, or an address that is not hexadecimal.
type SymbolParseError struct {
	Line   string
	Fields int
	Want   int
	// Reason is set when the field count is fine but a field is invalid.
	Reason string
}

func (e *SymbolParseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed symbol line %q: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed symbol line %q: %d fields, want at least %d", e.Line, e.Fields, e.Want)
}

// PipelineCompileError reports that a runnable pipeline state could not be
// built from a loaded library. For a harvested library this is a regression
// signal: the archive lacks a usable variant of the pipeline.
type PipelineCompileError struct {
	Source string
	Err    error
}

func (e *PipelineCompileError) Error() string {
	return fmt.Sprintf("build pipeline from %s: %v", e.Source, e.Err)
}

func (e *PipelineCompileError) Unwrap() error { return e.Err }
