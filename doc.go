// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shaderprobe validates a GPU shader pipeline end to end.
//
// # Overview
//
// shaderprobe harvests one compiled render pipeline into an on-disk binary
// archive, introspects that archive with the platform toolchain, disassembles
// every shader entry stub it finds, and finally runs the pipeline on real
// hardware to print the rendered texels.
//
// The stages run strictly in order and share a single archive path:
//
//	Harvest -> Introspect -> Disassemble -> Execute
//
// The textual transcript written to the console (section banners, every
// executed command and its captured output, the readback grid) is the
// primary result of a run.
//
// # Packages
//
// This package holds the shared domain types and the error taxonomy:
//   - PipelineSpec, PixelFormat: what to build
//   - ArchivePath, ArchitectureSlice, ShaderSymbol: what the stages hand off
//   - ProcessError, CompileError, SerializationError, ArchitectureNotFoundError,
//     SymbolParseError, PipelineCompileError: how a stage fails
//
// The stages live in internal packages (shell, toolchain, library, harvest,
// introspect, disasm, gpu) and are wired together by internal/app. The
// command cmd/shaderprobe is the user-facing entry point.
//
// # Logging
//
// shaderprobe produces no log output by default. Call SetLogger to enable
// structured diagnostics; the console transcript is independent of it.
package shaderprobe
