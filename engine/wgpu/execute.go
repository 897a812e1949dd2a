// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nowgpu

package wgpu

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cmdstream"
)

// backbufferFormat is the format of the default render target.
const backbufferFormat = gputypes.TextureFormatBGRA8Unorm

// submitTimeout bounds the fence wait after each submission.
const submitTimeout = 5 * time.Second

// ensureEncoder opens the command encoder work is recorded into. Repeated
// calls between submit points reuse the open encoder.
func (e *Engine) ensureEncoder() bool {
	if e.enc != nil {
		return true
	}
	if !e.deviceReady("encoder") {
		return false
	}
	enc, err := e.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "cmdstream_encoder",
	})
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu create command encoder failed", "err", err)
		return false
	}
	if err := enc.BeginEncoding("cmdstream_batch"); err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu begin encoding failed", "err", err)
		return false
	}
	e.enc = enc
	return true
}

// flushEncoder submits the open encoder and blocks until the GPU signals
// the fence. No-op when nothing was encoded.
func (e *Engine) flushEncoder() {
	if e.enc == nil {
		return
	}
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu submitting with an open render pass")
		e.pass.End()
		e.pass = nil
	}
	enc := e.enc
	e.enc = nil

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu end encoding failed", "err", err)
		return
	}
	defer e.device.FreeCommandBuffer(cmdBuf)

	fence, err := e.device.CreateFence()
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu create fence failed", "err", err)
		return
	}
	defer e.device.DestroyFence(fence)

	if err := e.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu submit failed", "err", err)
		return
	}
	if ok, err := e.device.Wait(fence, 1, submitTimeout); err != nil || !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu fence wait failed", "signaled", ok, "err", err)
	}
}

// discardEncoder abandons the open encoder without submitting. Used on
// Close, where replay has already stopped.
func (e *Engine) discardEncoder() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
	if e.enc != nil {
		e.enc.DiscardEncoding()
		e.enc = nil
	}
}

// BeginFrame marks the start of frame playback.
func (e *Engine) BeginFrame(frame uint64, monotonicNanos int64) {
	e.frame = frame
	cmdstream.Logger().Debug("cmdstream: wgpu frame begin",
		"frame", frame, "timestamp", monotonicNanos)
}

// EndFrame is a submit point: everything encoded since the last submit
// goes to the GPU and EndFrame returns once the fence signals.
func (e *Engine) EndFrame(frame uint64) {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu EndFrame with an open render pass")
		e.pass.End()
		e.pass = nil
	}
	e.flushEncoder()
	cmdstream.Logger().Debug("cmdstream: wgpu frame end", "frame", frame)
}

// ensureBackbuffer keeps a texture alive for passes targeting
// DefaultRenderTarget, recreated when the pass extent changes.
func (e *Engine) ensureBackbuffer(width, height uint32) bool {
	if e.back.tex != nil && e.back.width == width && e.back.height == height {
		return true
	}
	if e.back.tex != nil {
		e.destroyTextureEntry(&e.back)
		e.back = textureEntry{}
	}
	entry, err := e.newTextureEntry("cmdstream_backbuffer", width, height, backbufferFormat,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageCopySrc)
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu backbuffer create failed",
			"width", width, "height", height, "err", err)
		return false
	}
	e.back = *entry
	return true
}

// BeginRenderPass opens a render pass on the target texture, or on the
// backbuffer for DefaultRenderTarget.
func (e *Engine) BeginRenderPass(params cmdstream.RenderPassParams) {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu BeginRenderPass inside an open pass")
		return
	}
	if !e.ensureEncoder() {
		return
	}

	var view hal.TextureView
	if params.Target == cmdstream.DefaultRenderTarget {
		if !e.ensureBackbuffer(params.Width, params.Height) {
			return
		}
		view = e.back.view
	} else {
		entry, ok := e.textures[params.Target]
		if !ok {
			cmdstream.Logger().Warn("cmdstream: wgpu BeginRenderPass on unknown texture",
				"handle", params.Target)
			return
		}
		view = entry.view
	}

	e.pass = e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "cmdstream_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     params.LoadOp,
			StoreOp:    params.StoreOp,
			ClearValue: params.ClearColor,
		}},
	})

	// A fresh pass has none of the latched state applied.
	e.appliedPipeline = nil
	e.pipelineDirty = true
	for i := range e.vertex {
		if e.vertex[i].bound {
			e.vertex[i].dirty = true
		}
	}
	e.indexDirty = e.indexBuf != nil
}

// EndRenderPass closes the open render pass.
func (e *Engine) EndRenderPass() {
	if e.pass == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu EndRenderPass without an open pass")
		return
	}
	e.pass.End()
	e.pass = nil
}

// BindPipeline latches the pipeline for subsequent draws and dispatches.
func (e *Engine) BindPipeline(h cmdstream.PipelineHandle) {
	e.boundPipeline = h
	e.pipelineDirty = true
}

// BindVertexBuffer latches the buffer into a vertex slot.
func (e *Engine) BindVertexBuffer(slot uint32, h cmdstream.BufferHandle) {
	if slot >= maxVertexSlots {
		cmdstream.Logger().Warn("cmdstream: wgpu vertex slot out of range", "slot", slot)
		return
	}
	entry, ok := e.buffers[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu BindVertexBuffer on unknown buffer", "handle", h)
		return
	}
	e.vertex[slot] = vertexBinding{buf: entry.buf, bound: true, dirty: true}
}

// BindIndexBuffer latches the index buffer for DrawIndexed.
func (e *Engine) BindIndexBuffer(h cmdstream.BufferHandle, format cmdstream.IndexFormat) {
	entry, ok := e.buffers[h]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu BindIndexBuffer on unknown buffer", "handle", h)
		return
	}
	e.indexBuf = entry.buf
	if format == cmdstream.IndexFormatUint32 {
		e.indexFormat = gputypes.IndexFormatUint32
	} else {
		e.indexFormat = gputypes.IndexFormatUint16
	}
	e.indexDirty = true
}

// applyRenderState pushes the latched pipeline and vertex bindings into
// the open pass. Reports false when the draw cannot proceed.
func (e *Engine) applyRenderState() bool {
	if e.pipelineDirty || e.appliedPipeline == nil {
		entry, ok := e.pipelines[e.boundPipeline]
		if !ok {
			cmdstream.Logger().Warn("cmdstream: wgpu draw without a bound pipeline")
			return false
		}
		if entry.render == nil {
			cmdstream.Logger().Warn("cmdstream: wgpu draw with a compute pipeline bound",
				"label", entry.desc.Label)
			return false
		}
		if entry.render != e.appliedPipeline {
			e.pass.SetPipeline(entry.render)
			e.appliedPipeline = entry.render
		}
		e.pipelineDirty = false
	}
	for slot := range e.vertex {
		b := &e.vertex[slot]
		if b.bound && b.dirty {
			e.pass.SetVertexBuffer(uint32(slot), b.buf, 0)
			b.dirty = false
		}
	}
	return true
}

// Draw issues a non-indexed draw with the latched state.
func (e *Engine) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if e.pass == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu Draw outside a render pass")
		return
	}
	if !e.applyRenderState() {
		return
	}
	e.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed issues an indexed draw with the latched state.
func (e *Engine) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if e.pass == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu DrawIndexed outside a render pass")
		return
	}
	if e.indexBuf == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu DrawIndexed without an index buffer")
		return
	}
	if !e.applyRenderState() {
		return
	}
	if e.indexDirty {
		e.pass.SetIndexBuffer(e.indexBuf, e.indexFormat, 0)
		e.indexDirty = false
	}
	e.pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

// DispatchCompute runs the bound compute pipeline in a transient compute
// pass. Render and compute passes cannot nest, so an open render pass
// rejects the dispatch.
func (e *Engine) DispatchCompute(x, y, z uint32) {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu DispatchCompute inside a render pass")
		return
	}
	entry, ok := e.pipelines[e.boundPipeline]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu dispatch without a bound pipeline")
		return
	}
	if entry.compute == nil {
		cmdstream.Logger().Warn("cmdstream: wgpu dispatch with a render pipeline bound",
			"label", entry.desc.Label)
		return
	}
	if !e.ensureEncoder() {
		return
	}
	pass := e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "cmdstream_compute"})
	pass.SetPipeline(entry.compute)
	pass.Dispatch(x, y, z)
	pass.End()
}

// CopyBuffer encodes a buffer-to-buffer copy.
func (e *Engine) CopyBuffer(src, dst cmdstream.BufferHandle, srcOffset, dstOffset, size uint32) {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu CopyBuffer inside a render pass")
		return
	}
	srcEntry, ok := e.buffers[src]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu CopyBuffer unknown source", "handle", src)
		return
	}
	dstEntry, ok := e.buffers[dst]
	if !ok {
		cmdstream.Logger().Warn("cmdstream: wgpu CopyBuffer unknown destination", "handle", dst)
		return
	}
	if uint64(srcOffset)+uint64(size) > srcEntry.size ||
		uint64(dstOffset)+uint64(size) > dstEntry.size {
		cmdstream.Logger().Warn("cmdstream: wgpu CopyBuffer out of range",
			"src", src, "dst", dst, "size", size)
		return
	}
	if !e.ensureEncoder() {
		return
	}
	e.enc.CopyBufferToBuffer(srcEntry.buf, dstEntry.buf, []hal.BufferCopy{{
		SrcOffset: uint64(srcOffset),
		DstOffset: uint64(dstOffset),
		Size:      uint64(size),
	}})
}

// ReadPixels copies a rectangle of target into CPU memory and resolves
// done with tightly packed rows. A failed readback resolves done with a
// nil payload so waiters are never stranded.
func (e *Engine) ReadPixels(target cmdstream.TextureHandle, x, y, width, height uint32, done *cmdstream.Condition) {
	done.ResolveWith(e.readPixels(target, x, y, width, height))
}

func (e *Engine) readPixels(target cmdstream.TextureHandle, x, y, width, height uint32) []byte {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu ReadPixels inside a render pass")
		return nil
	}

	var src *textureEntry
	if target == cmdstream.DefaultRenderTarget {
		if e.back.tex == nil {
			cmdstream.Logger().Warn("cmdstream: wgpu ReadPixels before any backbuffer pass")
			return nil
		}
		src = &e.back
	} else {
		entry, ok := e.textures[target]
		if !ok {
			cmdstream.Logger().Warn("cmdstream: wgpu ReadPixels on unknown texture", "handle", target)
			return nil
		}
		src = entry
	}
	if uint64(x)+uint64(width) > uint64(src.width) || uint64(y)+uint64(height) > uint64(src.height) {
		cmdstream.Logger().Warn("cmdstream: wgpu ReadPixels outside texture bounds",
			"x", x, "y", y, "width", width, "height", height,
			"texWidth", src.width, "texHeight", src.height)
		return nil
	}
	if !e.ensureEncoder() {
		return nil
	}

	// Texture-to-buffer copies need 256-byte row alignment, so the whole
	// texture is staged and the rectangle cut out after readback.
	bpp := bytesPerPixel(src.format)
	bytesPerRow := src.width * bpp
	const copyPitchAlignment = 256
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(src.height)

	staging, err := e.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cmdstream_readback",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu readback staging failed", "err", err)
		return nil
	}
	defer e.device.DestroyBuffer(staging)

	// Render targets sit in attachment layout; the copy needs transfer
	// source. Transition there and back so the next pass sees the layout
	// it expects.
	e.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: src.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	e.enc.CopyTextureToBuffer(src.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  alignedBytesPerRow,
			RowsPerImage: src.height,
		},
		TextureBase: hal.ImageCopyTexture{Texture: src.tex, MipLevel: 0},
		Size:        hal.Extent3D{Width: src.width, Height: src.height, DepthOrArrayLayers: 1},
	}})
	e.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: src.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})

	e.flushEncoder()

	readback := make([]byte, stagingSize)
	if err := e.queue.ReadBuffer(staging, 0, readback); err != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu readback failed", "err", err)
		return nil
	}

	rowBytes := uint64(width) * uint64(bpp)
	pixels := make([]byte, rowBytes*uint64(height))
	for row := uint64(0); row < uint64(height); row++ {
		srcOff := (uint64(y)+row)*uint64(alignedBytesPerRow) + uint64(x)*uint64(bpp)
		copy(pixels[row*rowBytes:(row+1)*rowBytes], readback[srcOff:srcOff+rowBytes])
	}
	return pixels
}

// Finish submits pending work, waits for the fence, then resolves done.
func (e *Engine) Finish(done *cmdstream.Condition) {
	if e.pass != nil {
		cmdstream.Logger().Warn("cmdstream: wgpu Finish with an open render pass")
		e.pass.End()
		e.pass = nil
	}
	e.flushEncoder()
	done.Resolve()
}

// PushDebugGroup logs the group label. The HAL exposes no debug marker
// API, so groups surface through the logger only.
func (e *Engine) PushDebugGroup(label string) {
	cmdstream.Logger().Debug("cmdstream: wgpu debug group begin", "label", label)
}

// PopDebugGroup implements cmdstream.Engine.
func (e *Engine) PopDebugGroup() {
	cmdstream.Logger().Debug("cmdstream: wgpu debug group end")
}
