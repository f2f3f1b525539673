// Command shaderprobe harvests a GPU render pipeline into a binary archive,
// disassembles its entry stubs and executes it on a 4x4 target.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogpu/shaderprobe/cmd/shaderprobe/commands"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, commands.DefaultFactory))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory commands.Factory) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New(factory)
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	return 0
}
