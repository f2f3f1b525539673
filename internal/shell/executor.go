package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/gogpu/shaderprobe"
)

// DefaultShell is the interpreter every command line is handed to.
const DefaultShell = "/bin/sh"

// Executor implements Runner with os/exec. Each command runs as
// `/bin/sh -c <command>` with an empty environment and no stdin, so command
// lines must already be shell-escaped.
type Executor struct {
	shell   string
	env     []string
	timeout time.Duration
	out     io.Writer
}

// Option configures an Executor.
type Option func(*Executor)

// WithShell overrides the interpreter (default /bin/sh).
func WithShell(path string) Option {
	return func(e *Executor) { e.shell = path }
}

// WithEnv sets the environment of executed commands. The default is an
// empty environment.
func WithEnv(env []string) Option {
	return func(e *Executor) { e.env = append([]string{}, env...) }
}

// WithTimeout bounds each command. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// NewExecutor creates an Executor that echoes every command and its output
// to out. A nil out discards the transcript.
func NewExecutor(out io.Writer, opts ...Option) *Executor {
	if out == nil {
		out = io.Discard
	}
	e := &Executor{
		shell: DefaultShell,
		env:   []string{},
		out:   out,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Runner = (*Executor)(nil)

// Run executes command and returns its combined output.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	log := shaderprobe.Logger()
	_, _ = fmt.Fprintf(e.out, "\nCommand: %s\n", command)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.shell, "-c", command) //nolint:gosec // toolchain command lines are the product
	// A non-nil empty slice gives the child an empty environment; nil would
	// inherit ours.
	cmd.Env = e.env
	cmd.Stdin = nil
	if e.timeout > 0 {
		// Grandchildren may keep the output pipe open after the shell is killed.
		cmd.WaitDelay = time.Second
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	output := buf.String()
	_, _ = fmt.Fprintf(e.out, "Command stdout/stderr:\n%s\n", output)

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return output, &shaderprobe.ProcessError{Command: command, Err: fmt.Errorf("%w after %v", ctx.Err(), time.Since(start).Round(time.Millisecond))}
		case errors.As(err, &exitErr):
			log.Warn("shell: command exited non-zero", "command", command, "exit_code", exitErr.ExitCode())
		default:
			return output, &shaderprobe.ProcessError{Command: command, Err: err}
		}
	}

	log.Debug("shell: command finished", "command", command, "bytes", len(output), "elapsed", time.Since(start))
	return output, nil
}
