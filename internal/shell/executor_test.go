package shell_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/shell"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecutor_Run_CombinedOutput(t *testing.T) {
	var console bytes.Buffer
	e := shell.NewExecutor(&console)

	out, err := e.Run(context.Background(), "echo line1; echo line2 1>&2")
	require.NoError(t, err)
	assert.Contains(t, out, "line1")
	assert.Contains(t, out, "line2")

	assert.Contains(t, console.String(), "\nCommand: echo line1; echo line2 1>&2\n")
	assert.Contains(t, console.String(), "Command stdout/stderr:\n")
}

func TestExecutor_Run_NonZeroExitIsNotAnError(t *testing.T) {
	e := shell.NewExecutor(nil)

	out, err := e.Run(context.Background(), "echo partial; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "partial\n", out)
}

func TestExecutor_Run_EmptyEnvironment(t *testing.T) {
	t.Setenv("SHADERPROBE_LEAK", "visible")
	e := shell.NewExecutor(nil)

	out, err := e.Run(context.Background(), `printf '[%s]' "$SHADERPROBE_LEAK"`)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestExecutor_Run_WithEnv(t *testing.T) {
	e := shell.NewExecutor(nil, shell.WithEnv([]string{"PROBE_VALUE=test-value-123"}))

	out, err := e.Run(context.Background(), `printf '%s' "$PROBE_VALUE"`)
	require.NoError(t, err)
	assert.Equal(t, "test-value-123", out)
}

func TestExecutor_Run_LaunchFailure(t *testing.T) {
	e := shell.NewExecutor(nil, shell.WithShell("/nonexistent/shaderprobe-sh"))

	_, err := e.Run(context.Background(), "true")
	require.Error(t, err)

	var procErr *shaderprobe.ProcessError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "true", procErr.Command)
}

func TestExecutor_Run_Timeout(t *testing.T) {
	e := shell.NewExecutor(nil, shell.WithTimeout(50*time.Millisecond))

	_, err := e.Run(context.Background(), "sleep 5")
	require.Error(t, err)

	var procErr *shaderprobe.ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
