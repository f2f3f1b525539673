// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package app wires the harvest, introspect, disassemble and execute stages
// into one sequential run.
//
// A Probe carries everything the stages share: the command runner, the
// toolchain contract, the console writer and the single archive path of the
// run. Stages never read globals, so tests substitute a fake runner and a
// noop device.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/disasm"
	"github.com/gogpu/shaderprobe/internal/gpu"
	"github.com/gogpu/shaderprobe/internal/harvest"
	"github.com/gogpu/shaderprobe/internal/introspect"
	"github.com/gogpu/shaderprobe/internal/shell"
)

// DefaultPNGScale is the default PNG upscaling factor.
const DefaultPNGScale = 32

// LibraryNote is printed before execution. wgpu cannot load a Metal binary
// archive, so the pipeline runs from the SPIR-V library harvest writes next
// to it.
const LibraryNote = "Note: executing the portable SPIR-V library written at harvest, not the Metal binary archive"

// pipelineStages is the number of shader stages of one render pipeline.
const pipelineStages = 2

// Section titles of the console transcript.
const (
	TitleEnvironment = "Environment"
	TitleHarvest     = "Harvesting GPU Archive"
	TitleDisassemble = "Disassemble GPU Archive"
	TitleArchiveInfo = "GPU Archive Info"
	TitleExecute     = "Running Render Pipeline"
)

// Probe is one diagnostic run.
type Probe struct {
	opts   probeOptions
	runner shell.Runner
	out    io.Writer
	// stubs is the entry stub count of the last introspection, -1 before.
	stubs int
}

// New creates a Probe. Without WithArchive a fresh random archive path
// under the OS temp directory is generated.
func New(opts ...Option) *Probe {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.archive == "" {
		o.archive = shaderprobe.NewArchivePath("")
	}
	if o.out == nil {
		o.out = io.Discard
	}
	runner := o.runner
	if runner == nil {
		runner = shell.NewExecutor(o.out, shell.WithTimeout(o.commandTimeout))
	}
	return &Probe{opts: o, runner: runner, out: o.out, stubs: -1}
}

// Archive returns the archive path of this run.
func (p *Probe) Archive() shaderprobe.ArchivePath { return p.opts.archive }

// Run executes every stage in order and stops at the first failure.
func (p *Probe) Run(ctx context.Context) error {
	log := shaderprobe.Logger()
	log.Info("shaderprobe: run started", "archive", p.opts.archive.String(), "spec", p.opts.spec.String())

	if err := p.Environment(ctx); err != nil {
		return err
	}
	if err := p.Harvest(ctx); err != nil {
		return err
	}
	if _, err := p.Disassemble(ctx); err != nil {
		return err
	}
	if _, err := p.Execute(ctx); err != nil {
		return err
	}

	log.Info("shaderprobe: run finished", "archive", p.opts.archive.String())
	return nil
}

// Environment prints the toolchain's diagnostic commands.
func (p *Probe) Environment(ctx context.Context) error {
	p.banner(TitleEnvironment, false)
	for _, cmd := range p.opts.toolchain.Environment {
		if _, err := p.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Harvest builds the binary archive.
func (p *Probe) Harvest(ctx context.Context) error {
	p.banner(TitleHarvest, true)
	h := harvest.New(p.runner, p.opts.toolchain, harvest.WithTopology(p.opts.exec.Topology))
	if err := h.Harvest(ctx, p.opts.spec, p.opts.archive); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}

// Introspect thins the archive and lists its entry stubs.
func (p *Probe) Introspect(ctx context.Context) (*introspect.Result, error) {
	_, _ = fmt.Fprintf(p.out, "%s\n%s\n", TitleArchiveInfo, disasm.Rule(TitleArchiveInfo))
	res, err := introspect.New(p.runner, p.opts.toolchain).Introspect(ctx, p.opts.archive)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	p.stubs = len(res.Symbols)
	return res, nil
}

// Disassemble introspects the archive and disassembles every entry stub.
// Determinism and golden checks run when configured.
func (p *Probe) Disassemble(ctx context.Context) (*disasm.Transcript, error) {
	p.banner(TitleDisassemble, true)
	res, err := p.Introspect(ctx)
	if err != nil {
		return nil, err
	}

	d := disasm.New(p.runner, p.opts.toolchain, p.out)
	transcript, err := d.Disassemble(ctx, res.Thin, res.Symbols)
	if err != nil {
		return nil, fmt.Errorf("disassemble: %w", err)
	}
	if p.opts.determinism {
		if err := d.CheckDeterminism(ctx, transcript); err != nil {
			return nil, fmt.Errorf("disassemble: %w", err)
		}
	}
	if err := p.checkGolden(transcript); err != nil {
		return nil, err
	}
	return transcript, nil
}

func (p *Probe) checkGolden(t *disasm.Transcript) error {
	switch {
	case p.opts.golden == "":
		return nil
	case p.opts.writeGolden:
		if err := disasm.SaveGolden(p.opts.golden, t); err != nil {
			return err
		}
		shaderprobe.Logger().Info("shaderprobe: golden transcript written", "path", p.opts.golden)
		return nil
	}
	golden, err := disasm.LoadGolden(p.opts.golden)
	if err != nil {
		return err
	}
	return t.Compare(golden)
}

// Execute runs the pipeline from the harvested library and prints the grid.
func (p *Probe) Execute(ctx context.Context) (*gpu.Grid, error) {
	p.banner(TitleExecute, true)

	device, err := p.opts.openDevice()
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	defer device.Close()

	src := gpu.ArchiveSource(p.opts.archive, p.opts.toolchain.LibrarySuffix)
	_, _ = fmt.Fprintf(p.out, "Library: %s\n%s\n\n", src, LibraryNote)
	if p.stubs >= 0 && p.stubs != pipelineStages {
		shaderprobe.Logger().Warn("execute: archive entry stubs differ from pipeline stages",
			"stubs", p.stubs, "stages", pipelineStages)
	}
	grid, err := device.Execute(ctx, src, p.opts.spec, p.opts.exec)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	_, _ = fmt.Fprint(p.out, grid.String())

	if p.opts.compareDefault {
		ref, err := device.Execute(ctx, gpu.DefaultSource(), p.opts.spec, p.opts.exec)
		if err != nil {
			return nil, fmt.Errorf("execute reference: %w", err)
		}
		if !grid.Equal(ref) {
			return nil, fmt.Errorf("%w: harvested library renders\n%sin-process library renders\n%s",
				shaderprobe.ErrReadbackMismatch, grid, ref)
		}
	}
	if want := p.opts.expect; want != nil {
		if n := grid.Mismatches(*want); n > 0 {
			return nil, fmt.Errorf("%w: %d of %d texels differ from %v",
				shaderprobe.ErrReadbackMismatch, n, grid.Width*grid.Height, *want)
		}
	}
	if p.opts.pngPath != "" {
		if err := p.writePNG(grid); err != nil {
			return nil, err
		}
	}
	return grid, nil
}

func (p *Probe) writePNG(grid *gpu.Grid) error {
	f, err := os.Create(p.opts.pngPath)
	if err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	if err := grid.WritePNG(f, p.opts.pngScale); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// banner prints a section title between two dash rules.
func (p *Probe) banner(title string, blank bool) {
	rule := disasm.Rule(title)
	_, _ = fmt.Fprintf(p.out, "\n%s\n%s\n%s\n", rule, title, rule)
	if blank {
		_, _ = fmt.Fprintln(p.out)
	}
}
