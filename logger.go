// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderprobe

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// discard drops every record and reports every level disabled.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(discard{}))
}

// SetLogger routes the diagnostics of every stage to l. A nil l silences
// them again, which is also the state before the first call.
//
// The console transcript is written separately and is not affected. Records
// are emitted at:
//   - Debug: each finished shell command with its output size and duration,
//     the compiled library and harvested pipeline descriptor, the opened GPU
//     adapter and each executed pipeline
//   - Info: run start and finish, the written archive, the selected
//     architecture slice, the parsed symbol count, a written golden file
//   - Warn: a tool that exited non-zero, an entry stub count that differs
//     from the pipeline's stage count
//
// The cmd/shaderprobe --verbose flag installs a text handler at Debug on
// stderr.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(discard{})
	}
	current.Store(l)
}

// Logger returns the logger the stages write to.
func Logger() *slog.Logger {
	return current.Load()
}
