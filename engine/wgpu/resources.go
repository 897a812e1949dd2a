// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nowgpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cmdstream"
)

// compileShaderToSPIRV lowers WGSL to SPIR-V words. Going through SPIR-V
// rather than handing WGSL to the HAL keeps compilation errors observable
// here instead of inside the backend.
func compileShaderToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// bytesPerPixel returns the pixel stride of the formats SupportsFormat
// accepts.
func bytesPerPixel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// CreateBuffer realizes the buffer for h. CopyDst is always added so
// UpdateBuffer works regardless of the recorded usage.
func (e *Engine) CreateBuffer(h cmdstream.BufferHandle, size uint32, usage gputypes.BufferUsage) {
	if !e.deviceReady("CreateBuffer") {
		return
	}
	buf, err := e.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("cmdstream_buffer_%d", h),
		Size:  uint64(size),
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu CreateBuffer failed", "handle", h, "err", err)
		return
	}
	e.buffers[h] = bufferEntry{buf: buf, size: uint64(size)}
}

// UpdateBuffer uploads data through the queue. The slice aliases the
// command arena; hal queues copy synchronously, so no retention happens.
func (e *Engine) UpdateBuffer(h cmdstream.BufferHandle, offset uint32, data []byte) {
	entry, ok := e.buffers[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu UpdateBuffer on unknown buffer", "handle", h)
		return
	}
	if uint64(offset)+uint64(len(data)) > entry.size {
		cmdstream.Logger().Warn("cmdstream: wgpu UpdateBuffer out of range",
			"handle", h, "offset", offset, "len", len(data), "size", entry.size)
		return
	}
	e.queue.WriteBuffer(entry.buf, uint64(offset), data)
}

// DestroyBuffer releases the buffer bound to h.
func (e *Engine) DestroyBuffer(h cmdstream.BufferHandle) {
	entry, ok := e.buffers[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu DestroyBuffer on unknown buffer", "handle", h)
		return
	}
	e.device.DestroyBuffer(entry.buf)
	delete(e.buffers, h)
}

// CreateTexture realizes the texture for h as a 2D single-sample texture
// with one mip level. CopyDst is always added so WriteTexture works.
func (e *Engine) CreateTexture(h cmdstream.TextureHandle, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) {
	if !e.deviceReady("CreateTexture") {
		return
	}
	entry, err := e.newTextureEntry(fmt.Sprintf("cmdstream_texture_%d", h),
		width, height, format, usage|gputypes.TextureUsageCopyDst)
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu CreateTexture failed", "handle", h, "err", err)
		return
	}
	e.textures[h] = entry
}

// newTextureEntry creates a texture plus its default view.
func (e *Engine) newTextureEntry(label string, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*textureEntry, error) {
	tex, err := e.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture: %w", err)
	}
	view, err := e.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: label + "_view",
	})
	if err != nil {
		e.device.DestroyTexture(tex)
		return nil, fmt.Errorf("create texture view: %w", err)
	}
	return &textureEntry{tex: tex, view: view, width: width, height: height, format: format}, nil
}

func (e *Engine) destroyTextureEntry(t *textureEntry) {
	if t.view != nil {
		e.device.DestroyTextureView(t.view)
	}
	if t.tex != nil {
		e.device.DestroyTexture(t.tex)
	}
}

// WriteTexture uploads pixels into the texture through the queue.
func (e *Engine) WriteTexture(h cmdstream.TextureHandle, level uint32, data []byte) {
	entry, ok := e.textures[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu WriteTexture on unknown texture", "handle", h)
		return
	}
	// Textures carry a single mip level; reject the rest rather than
	// letting the HAL fault.
	if level != 0 {
		cmdstream.Logger().Warn("cmdstream: wgpu WriteTexture beyond mip 0", "handle", h, "level", level)
		return
	}
	bpp := bytesPerPixel(entry.format)
	e.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: entry.tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  entry.width * bpp,
			RowsPerImage: entry.height,
		},
		&hal.Extent3D{Width: entry.width, Height: entry.height, DepthOrArrayLayers: 1},
	)
}

// DestroyTexture releases the texture bound to h.
func (e *Engine) DestroyTexture(h cmdstream.TextureHandle) {
	entry, ok := e.textures[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu DestroyTexture on unknown texture", "handle", h)
		return
	}
	e.destroyTextureEntry(entry)
	delete(e.textures, h)
}

// CreatePipeline compiles the descriptor's WGSL and builds the render or
// compute pipeline. Pipelines built here carry no bind group layouts;
// shaders address vertex inputs and builtins only.
func (e *Engine) CreatePipeline(h cmdstream.PipelineHandle, desc cmdstream.PipelineDesc) {
	if !e.deviceReady("CreatePipeline") {
		return
	}
	entry, err := e.newPipelineEntry(desc)
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu CreatePipeline failed",
			"handle", h, "label", desc.Label, "err", err)
		return
	}
	e.pipelines[h] = entry
}

func (e *Engine) newPipelineEntry(desc cmdstream.PipelineDesc) (*pipelineEntry, error) {
	if desc.WGSL == "" {
		return nil, fmt.Errorf("pipeline %q: empty shader source", desc.Label)
	}

	spirv, err := compileShaderToSPIRV(desc.WGSL)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}
	shader, err := e.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: create shader module: %w", desc.Label, err)
	}

	layout, err := e.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: desc.Label + "_layout",
	})
	if err != nil {
		e.device.DestroyShaderModule(shader)
		return nil, fmt.Errorf("pipeline %q: create pipeline layout: %w", desc.Label, err)
	}

	entry := &pipelineEntry{desc: desc, shader: shader, layout: layout}
	if desc.IsCompute() {
		err = e.buildComputePipeline(entry)
	} else {
		err = e.buildRenderPipeline(entry)
	}
	if err != nil {
		e.destroyPipelineEntry(entry)
		return nil, err
	}
	return entry, nil
}

func (e *Engine) buildComputePipeline(entry *pipelineEntry) error {
	desc := &entry.desc
	pipeline, err := e.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: entry.layout,
		Compute: hal.ComputeState{
			Module:     entry.shader,
			EntryPoint: desc.ComputeEntry,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline %q: create compute pipeline: %w", desc.Label, err)
	}
	entry.compute = pipeline
	return nil
}

func (e *Engine) buildRenderPipeline(entry *pipelineEntry) error {
	desc := &entry.desc
	if desc.VertexEntry == "" || desc.FragmentEntry == "" {
		return fmt.Errorf("pipeline %q: render pipeline needs vertex and fragment entry points", desc.Label)
	}

	colorFormat := desc.ColorFormat
	if colorFormat == gputypes.TextureFormatUndefined {
		colorFormat = backbufferFormat
	}

	var buffers []gputypes.VertexBufferLayout
	if desc.VertexStride > 0 {
		attrs := make([]gputypes.VertexAttribute, len(desc.VertexAttrs))
		for i, a := range desc.VertexAttrs {
			attrs[i] = gputypes.VertexAttribute{
				Format:         a.Format,
				Offset:         uint64(a.Offset),
				ShaderLocation: a.Location,
			}
		}
		buffers = []gputypes.VertexBufferLayout{{
			ArrayStride: uint64(desc.VertexStride),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes:  attrs,
		}}
	}

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := e.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: entry.layout,
		Vertex: hal.VertexState{
			Module:     entry.shader,
			EntryPoint: desc.VertexEntry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     entry.shader,
			EntryPoint: desc.FragmentEntry,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    colorFormat,
					Blend:     &premulBlend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline %q: create render pipeline: %w", desc.Label, err)
	}
	entry.render = pipeline
	return nil
}

// destroyPipelineEntry releases pipeline resources in reverse creation
// order.
func (e *Engine) destroyPipelineEntry(p *pipelineEntry) {
	if p.render != nil {
		e.device.DestroyRenderPipeline(p.render)
		p.render = nil
	}
	if p.compute != nil {
		e.device.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.layout != nil {
		e.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	if p.shader != nil {
		e.device.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

// DestroyPipeline releases the pipeline bound to h.
func (e *Engine) DestroyPipeline(h cmdstream.PipelineHandle) {
	entry, ok := e.pipelines[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu DestroyPipeline on unknown pipeline", "handle", h)
		return
	}
	e.destroyPipelineEntry(entry)
	delete(e.pipelines, h)
}

// deviceReady reports whether the device is open, logging the skipped
// operation when it is not. Replay cannot return errors, so operations
// arriving before Init or after Close degrade to logged no-ops.
func (e *Engine) deviceReady(op string) bool {
	if e.device == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu engine not initialized", "op", op)
		return false
	}
	return true
}
