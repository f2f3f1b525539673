package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Build the binary archive and print its path",
		Args:  cobra.NoArgs,
		RunE: c.stage(func(ctx context.Context, s Stages, cmd *cobra.Command) error {
			if err := s.Harvest(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "archive: %s\n", s.Archive())
			return nil
		}),
	}
}

func (c *CLI) newIntrospectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "introspect",
		Short: "Thin an existing archive and list its entry stubs",
		Args:  cobra.NoArgs,
		RunE: c.stage(func(ctx context.Context, s Stages, cmd *cobra.Command) error {
			if err := c.requireArchive(); err != nil {
				return err
			}
			res, err := s.Introspect(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "architecture: %s\nthin: %s\n", res.Arch, res.Thin)
			for _, sym := range res.Symbols {
				_, _ = fmt.Fprintf(out, "%s %s\n", sym.Offset(), sym.RawName)
			}
			return nil
		}),
	}
}

func (c *CLI) newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm",
		Short: "Disassemble the entry stubs of an existing archive",
		Args:  cobra.NoArgs,
		RunE: c.stage(func(ctx context.Context, s Stages, _ *cobra.Command) error {
			if err := c.requireArchive(); err != nil {
				return err
			}
			_, err := s.Disassemble(ctx)
			return err
		}),
	}
}

func (c *CLI) newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Run the pipeline from an existing archive and print the grid",
		Args:  cobra.NoArgs,
		RunE: c.stage(func(ctx context.Context, s Stages, _ *cobra.Command) error {
			if err := c.requireArchive(); err != nil {
				return err
			}
			_, err := s.Execute(ctx)
			return err
		}),
	}
}

func (c *CLI) newToolchainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toolchain",
		Short: "Print the effective toolchain as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, err := c.loadToolchain()
			if err != nil {
				return err
			}
			data, err := tc.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
