// Package shell runs external toolchain commands and captures their output.
package shell

import "context"

// Runner runs one shell command line synchronously and returns its combined
// stdout/stderr as text.
//
// Implementations return a *shaderprobe.ProcessError only when the command
// cannot be launched. A command that exits non-zero is not an error; callers
// inspect the captured text.
//
//go:generate go run go.uber.org/mock/mockgen -source=runner.go -destination=mocks/mock_runner.go -package=mocks
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}
