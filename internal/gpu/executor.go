// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderprobe"
	"github.com/gogpu/shaderprobe/internal/library"
)

// Default render target size.
const (
	DefaultWidth  = 4
	DefaultHeight = 4
)

// rowAlignment is the required bytes-per-row alignment of texture to buffer
// copies.
const rowAlignment = 256

// scratchTexelBytes is the size of one vec4<f32> scratch element.
const scratchTexelBytes = 16

// minScratchSize covers the fixed-size scratch array of the default library.
const minScratchSize = 16 * scratchTexelBytes

// waitSlice bounds a single fence wait so cancellation and the optional
// timeout are observed while blocking.
const waitSlice = 100 * time.Millisecond

// Config controls one execution.
type Config struct {
	Width, Height uint32
	Topology      shaderprobe.Topology
	// BindScratch binds a fragment-visible storage buffer at group 0,
	// binding 0.
	BindScratch bool
	Clear       gputypes.Color
	// Timeout bounds the wait for GPU completion. Zero waits forever.
	Timeout time.Duration
}

// DefaultConfig renders a 4x4 target with a full-target triangle strip,
// cleared to transparent black.
func DefaultConfig() Config {
	return Config{Width: DefaultWidth, Height: DefaultHeight, Topology: shaderprobe.TriangleStrip}
}

// executeResources tracks per-run GPU objects for cleanup.
type executeResources struct {
	shader      hal.ShaderModule
	bindLayout  hal.BindGroupLayout
	pipeLayout  hal.PipelineLayout
	pipeline    hal.RenderPipeline
	target      hal.Texture
	targetView  hal.TextureView
	staging     hal.Buffer
	scratch     hal.Buffer
	bindGroup   hal.BindGroup
	cmdBuf      hal.CommandBuffer
	fence       hal.Fence
	bytesPerRow uint32
}

func (r *executeResources) destroy(device hal.Device) {
	if r.fence != nil {
		device.DestroyFence(r.fence)
	}
	if r.cmdBuf != nil {
		device.FreeCommandBuffer(r.cmdBuf)
	}
	if r.bindGroup != nil {
		device.DestroyBindGroup(r.bindGroup)
	}
	if r.scratch != nil {
		device.DestroyBuffer(r.scratch)
	}
	if r.staging != nil {
		device.DestroyBuffer(r.staging)
	}
	if r.targetView != nil {
		device.DestroyTextureView(r.targetView)
	}
	if r.target != nil {
		device.DestroyTexture(r.target)
	}
	if r.pipeline != nil {
		device.DestroyRenderPipeline(r.pipeline)
	}
	if r.pipeLayout != nil {
		device.DestroyPipelineLayout(r.pipeLayout)
	}
	if r.bindLayout != nil {
		device.DestroyBindGroupLayout(r.bindLayout)
	}
	if r.shader != nil {
		device.DestroyShaderModule(r.shader)
	}
}

// Execute loads the library from src, builds the pipeline of spec, renders
// one pass into a fresh target and returns the read back texels.
func (d *Device) Execute(ctx context.Context, src Source, spec shaderprobe.PipelineSpec, cfg Config) (*Grid, error) {
	log := shaderprobe.Logger()
	if d.device == nil {
		return nil, errors.New("gpu: device is closed")
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if err := spec.Validate(); err != nil {
		return nil, &shaderprobe.PipelineCompileError{Source: src.String(), Err: err}
	}
	format, err := textureFormat(spec.Format)
	if err != nil {
		return nil, err
	}

	lib, err := src.load()
	if err != nil {
		return nil, &shaderprobe.PipelineCompileError{Source: src.String(), Err: err}
	}
	vertex, fragment, err := lib.Resolve(spec)
	if err != nil {
		return nil, &shaderprobe.PipelineCompileError{Source: src.String(), Err: err}
	}

	res := &executeResources{}
	defer res.destroy(d.device)

	if err := d.createPipeline(res, lib, vertex, fragment, format, cfg); err != nil {
		return nil, &shaderprobe.PipelineCompileError{Source: src.String(), Err: err}
	}
	if err := d.createTargets(res, spec.Format, format, cfg); err != nil {
		return nil, err
	}
	if err := d.encode(res, cfg); err != nil {
		return nil, err
	}
	if err := d.submitAndWait(ctx, res, cfg.Timeout); err != nil {
		return nil, err
	}

	raw := make([]byte, uint64(res.bytesPerRow)*uint64(cfg.Height))
	if err := d.queue.ReadBuffer(res.staging, 0, raw); err != nil {
		return nil, fmt.Errorf("gpu: readback: %w", err)
	}
	grid, err := decodeGrid(raw, int(cfg.Width), int(cfg.Height), int(res.bytesPerRow), spec.Format)
	if err != nil {
		return nil, err
	}
	log.Debug("gpu: pipeline executed", "source", src.String(), "spec", spec.String(),
		"width", cfg.Width, "height", cfg.Height, "bytes_per_row", res.bytesPerRow)
	return grid, nil
}

func (d *Device) createPipeline(res *executeResources, lib *library.Library, vertex, fragment library.Entry,
	format gputypes.TextureFormat, cfg Config,
) error {
	shader, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "shaderprobe_library",
		Source: hal.ShaderSource{SPIRV: lib.Words()},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	res.shader = shader

	var layouts []hal.BindGroupLayout
	if cfg.BindScratch {
		bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: "shaderprobe_scratch_layout",
			Entries: []gputypes.BindGroupLayoutEntry{
				{
					Binding:    0,
					Visibility: gputypes.ShaderStageFragment,
					Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create bind group layout: %w", err)
		}
		res.bindLayout = bindLayout
		layouts = append(layouts, bindLayout)
	}

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "shaderprobe_pipe_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	res.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "shaderprobe_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: vertex.Name,
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: fragment.Name,
			Targets: []gputypes.ColorTargetState{
				{Format: format, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: primitiveTopology(cfg.Topology),
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}
	res.pipeline = pipeline
	return nil
}

func (d *Device) createTargets(res *executeResources, pf shaderprobe.PixelFormat, format gputypes.TextureFormat, cfg Config) error {
	size := hal.Extent3D{Width: cfg.Width, Height: cfg.Height, DepthOrArrayLayers: 1}

	target, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "shaderprobe_target",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("gpu: create render target: %w", err)
	}
	res.target = target

	view, err := d.device.CreateTextureView(target, &hal.TextureViewDescriptor{
		Label:         "shaderprobe_target_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return fmt.Errorf("gpu: create render target view: %w", err)
	}
	res.targetView = view

	res.bytesPerRow = alignedRowBytes(cfg.Width, pf)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "shaderprobe_staging",
		Size:  uint64(res.bytesPerRow) * uint64(cfg.Height),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	res.staging = staging

	if !cfg.BindScratch {
		return nil
	}
	scratchSize := max(uint64(cfg.Width)*uint64(cfg.Height)*scratchTexelBytes, minScratchSize)
	scratch, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "shaderprobe_scratch",
		Size:  scratchSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create scratch buffer: %w", err)
	}
	res.scratch = scratch

	bindGroup, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "shaderprobe_scratch_bind",
		Layout: res.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: scratch.NativeHandle(), Offset: 0, Size: scratchSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create scratch bind group: %w", err)
	}
	res.bindGroup = bindGroup
	return nil
}

// encode records the render pass and the copy of the target into the
// staging buffer.
func (d *Device) encode(res *executeResources, cfg Config) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "shaderprobe_encoder",
	})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("shaderprobe"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "shaderprobe_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:       res.targetView,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: cfg.Clear,
			},
		},
	})
	rp.SetPipeline(res.pipeline)
	if res.bindGroup != nil {
		rp.SetBindGroup(0, res.bindGroup, nil)
	}
	rp.Draw(cfg.Topology.VertexCount(), 1, 0, 0)
	rp.End()

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: res.target,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(res.target, res.staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: res.bytesPerRow, RowsPerImage: cfg.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: res.target, MipLevel: 0},
		Size:         hal.Extent3D{Width: cfg.Width, Height: cfg.Height, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf
	return nil
}

// submitAndWait submits the recorded work and blocks until the GPU signals
// the fence. A zero timeout waits until completion or ctx cancellation.
func (d *Device) submitAndWait(ctx context.Context, res *executeResources, timeout time.Duration) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	res.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{res.cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}

	start := time.Now()
	for {
		ok, err := d.device.Wait(fence, 1, waitSlice)
		if err != nil {
			return fmt.Errorf("gpu: wait for GPU: %w", err)
		}
		if ok {
			return nil
		}
		if timeout > 0 && time.Since(start) >= timeout {
			return fmt.Errorf("gpu: GPU timeout after %v: %w", timeout, context.DeadlineExceeded)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gpu: wait for GPU: %w", err)
		}
	}
}

func alignedRowBytes(width uint32, pf shaderprobe.PixelFormat) uint32 {
	row := width * uint32(pf.TexelBytes()) //nolint:gosec // texel size is 4 or 16
	return (row + rowAlignment - 1) / rowAlignment * rowAlignment
}

func textureFormat(pf shaderprobe.PixelFormat) (gputypes.TextureFormat, error) {
	switch pf {
	case shaderprobe.RGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, nil
	case shaderprobe.RGBA32Float:
		return gputypes.TextureFormatRGBA32Float, nil
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("gpu: unsupported pixel format %v", pf)
}

func primitiveTopology(t shaderprobe.Topology) gputypes.PrimitiveTopology {
	if t == shaderprobe.Point {
		return gputypes.PrimitiveTopologyPointList
	}
	return gputypes.PrimitiveTopologyTriangleStrip
}
