// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package noop provides a headless cmdstream engine.
//
// The noop engine executes operations against in-memory bookkeeping only:
// handles are allocated, resource lifetimes and pass/frame bracketing are
// validated, and per-class counters are kept. It is the engine of choice
// for tests and for running record/replay pipelines on machines without
// a GPU.
//
// Import it for its registration side effect:
//
//	import _ "github.com/gogpu/cmdstream/engine/noop"
package noop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/cmdstream"
	"github.com/gogpu/gputypes"
)

// Name is the identifier the engine registers under.
const Name = "noop"

// init registers the noop engine on package import.
func init() {
	cmdstream.Register(Name, func() cmdstream.Engine { return New() })
}

// Counts aggregates how many operations of each class have executed.
type Counts struct {
	Frames       uint64 // completed BeginFrame/EndFrame pairs
	RenderPasses uint64 // completed render passes
	Draws        uint64 // Draw plus DrawIndexed
	Dispatches   uint64 // DispatchCompute
	Copies       uint64 // CopyBuffer
	Uploads      uint64 // UpdateBuffer plus WriteTexture
	Readbacks    uint64 // ReadPixels
	Batches      uint64 // executed ranges
}

type textureInfo struct {
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

// Engine is the headless engine. Create one directly with New, or through
// the registry as cmdstream.New("noop").
//
// Handle allocators are safe to call from the record goroutine while
// operations execute. The inspection methods (Counts, Violations, Live*)
// may be called from any goroutine; their results are only stable once
// the execution goroutine has drained.
type Engine struct {
	nextBuffer   atomic.Uint32
	nextTexture  atomic.Uint32
	nextPipeline atomic.Uint32

	callbacks *cmdstream.CallbackManager

	mu         sync.Mutex
	counts     Counts
	violations []string

	frameDepth int
	passDepth  int
	groupDepth int

	// Extent of the last pass that targeted DefaultRenderTarget.
	backWidth  uint32
	backHeight uint32

	buffers   map[cmdstream.BufferHandle]uint32
	textures  map[cmdstream.TextureHandle]textureInfo
	pipelines map[cmdstream.PipelineHandle]cmdstream.PipelineDesc

	boundPipeline cmdstream.PipelineHandle
}

// New creates a noop engine. Init is still required before use when the
// engine is constructed directly rather than through cmdstream.New.
func New() *Engine {
	return &Engine{
		callbacks:     cmdstream.NewCallbackManager(),
		buffers:       make(map[cmdstream.BufferHandle]uint32),
		textures:      make(map[cmdstream.TextureHandle]textureInfo),
		pipelines:     make(map[cmdstream.PipelineHandle]cmdstream.PipelineDesc),
		boundPipeline: cmdstream.PipelineHandle(cmdstream.InvalidHandle),
	}
}

// Name returns the engine identifier.
func (e *Engine) Name() string { return Name }

// Init implements cmdstream.Engine. The noop engine has nothing to bring up.
func (e *Engine) Init() error {
	cmdstream.Logger().Info("cmdstream: noop engine ready")
	return nil
}

// Close fires any callbacks still waiting on unresolved conditions so they
// are not lost, then drops all bookkeeping.
func (e *Engine) Close() {
	e.callbacks.Terminate()
	e.callbacks.Purge()
	e.callbacks.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.buffers) + len(e.textures) + len(e.pipelines); n > 0 {
		cmdstream.Logger().Warn("cmdstream: noop engine closed with live resources",
			"buffers", len(e.buffers), "textures", len(e.textures), "pipelines", len(e.pipelines))
	}
	e.buffers = nil
	e.textures = nil
	e.pipelines = nil
}

// Dispatcher returns the standard dispatch table; the noop engine has no
// operations that need custom decoding.
func (e *Engine) Dispatcher() cmdstream.Dispatcher {
	return cmdstream.StdDispatcher()
}

// Callbacks returns the engine's callback manager. Pair conditions from
// it with recorded ReadPixels and Finish operations.
func (e *Engine) Callbacks() *cmdstream.CallbackManager {
	return e.callbacks
}

// violate records a consistency violation. Violations are collected
// rather than panicking so a test can assert on the whole replay.
func (e *Engine) violate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.violations = append(e.violations, msg)
	cmdstream.Logger().Warn("cmdstream: noop engine violation", "detail", msg)
}

// ---------------------------------------------------------------------
// Submit-phase methods
// ---------------------------------------------------------------------

// AllocateBufferHandle reserves the next buffer handle.
func (e *Engine) AllocateBufferHandle() cmdstream.BufferHandle {
	return cmdstream.BufferHandle(e.nextBuffer.Add(1) - 1)
}

// AllocateTextureHandle reserves the next texture handle.
func (e *Engine) AllocateTextureHandle() cmdstream.TextureHandle {
	return cmdstream.TextureHandle(e.nextTexture.Add(1) - 1)
}

// AllocatePipelineHandle reserves the next pipeline handle.
func (e *Engine) AllocatePipelineHandle() cmdstream.PipelineHandle {
	return cmdstream.PipelineHandle(e.nextPipeline.Add(1) - 1)
}

// MaxBufferSize reports the buffer size cap. The noop engine accepts
// anything a 32-bit record field can describe.
func (e *Engine) MaxBufferSize() uint64 { return 1 << 31 }

// SupportsFormat reports format support; everything but the undefined
// placeholder is accepted.
func (e *Engine) SupportsFormat(format gputypes.TextureFormat) bool {
	return format != gputypes.TextureFormatUndefined
}

// Purge delivers due callbacks on the calling goroutine.
func (e *Engine) Purge() { e.callbacks.Purge() }

// ExecuteBatch counts the batch and replays it.
func (e *Engine) ExecuteBatch(fn func()) {
	e.mu.Lock()
	e.counts.Batches++
	e.mu.Unlock()
	fn()
}

// DebugCommandBegin logs the command name when tracing is enabled.
func (e *Engine) DebugCommandBegin(name string) {
	cmdstream.Logger().Debug("cmdstream: command", "name", name)
}

// DebugCommandEnd implements cmdstream.Engine.
func (e *Engine) DebugCommandEnd(string) {}

// ---------------------------------------------------------------------
// Return-phase operations
// ---------------------------------------------------------------------

// BeginFrame validates frame bracketing.
func (e *Engine) BeginFrame(frame uint64, monotonicNanos int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frameDepth != 0 {
		e.violate("BeginFrame(%d) inside frame", frame)
	}
	e.frameDepth++
	cmdstream.Logger().Debug("cmdstream: begin frame", "frame", frame, "nanos", monotonicNanos)
}

// EndFrame validates frame bracketing and counts the frame.
func (e *Engine) EndFrame(frame uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frameDepth != 1 {
		e.violate("EndFrame(%d) without matching BeginFrame", frame)
		return
	}
	if e.passDepth != 0 {
		e.violate("EndFrame(%d) with render pass still open", frame)
	}
	e.frameDepth--
	e.counts.Frames++
}

// CreateBuffer realizes a buffer as a size entry.
func (e *Engine) CreateBuffer(h cmdstream.BufferHandle, size uint32, usage gputypes.BufferUsage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.buffers[h]; dup {
		e.violate("CreateBuffer reused live handle %d", h)
	}
	e.buffers[h] = size
}

// UpdateBuffer validates the destination region.
func (e *Engine) UpdateBuffer(h cmdstream.BufferHandle, offset uint32, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	size, ok := e.buffers[h]
	switch {
	case !ok:
		e.violate("UpdateBuffer on unknown buffer %d", h)
	case uint64(offset)+uint64(len(data)) > uint64(size):
		e.violate("UpdateBuffer writes [%d,%d) past buffer %d size %d",
			offset, uint64(offset)+uint64(len(data)), h, size)
	}
	e.counts.Uploads++
}

// DestroyBuffer retires a buffer handle.
func (e *Engine) DestroyBuffer(h cmdstream.BufferHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[h]; !ok {
		e.violate("DestroyBuffer on unknown buffer %d", h)
		return
	}
	delete(e.buffers, h)
}

// CreateTexture realizes a texture as a dimensions entry.
func (e *Engine) CreateTexture(h cmdstream.TextureHandle, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.textures[h]; dup {
		e.violate("CreateTexture reused live handle %d", h)
	}
	if width == 0 || height == 0 {
		e.violate("CreateTexture %d with empty extent %dx%d", h, width, height)
	}
	e.textures[h] = textureInfo{width: width, height: height, format: format}
}

// WriteTexture validates the upload target.
func (e *Engine) WriteTexture(h cmdstream.TextureHandle, level uint32, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.textures[h]; !ok {
		e.violate("WriteTexture on unknown texture %d", h)
	}
	e.counts.Uploads++
}

// DestroyTexture retires a texture handle.
func (e *Engine) DestroyTexture(h cmdstream.TextureHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.textures[h]; !ok {
		e.violate("DestroyTexture on unknown texture %d", h)
		return
	}
	delete(e.textures, h)
}

// CreatePipeline realizes a pipeline as its descriptor.
func (e *Engine) CreatePipeline(h cmdstream.PipelineHandle, desc cmdstream.PipelineDesc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pipelines[h]; dup {
		e.violate("CreatePipeline reused live handle %d", h)
	}
	render := desc.VertexEntry != "" || desc.FragmentEntry != ""
	if render == desc.IsCompute() {
		e.violate("CreatePipeline %q must set either render or compute entry points", desc.Label)
	}
	e.pipelines[h] = desc
}

// DestroyPipeline retires a pipeline handle.
func (e *Engine) DestroyPipeline(h cmdstream.PipelineHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pipelines[h]; !ok {
		e.violate("DestroyPipeline on unknown pipeline %d", h)
		return
	}
	delete(e.pipelines, h)
}

// BeginRenderPass validates pass bracketing.
func (e *Engine) BeginRenderPass(params cmdstream.RenderPassParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passDepth != 0 {
		e.violate("BeginRenderPass inside render pass")
	}
	if params.Target == cmdstream.DefaultRenderTarget {
		e.backWidth, e.backHeight = params.Width, params.Height
	} else if _, ok := e.textures[params.Target]; !ok {
		e.violate("BeginRenderPass on unknown texture %d", params.Target)
	}
	e.passDepth++
}

// EndRenderPass validates pass bracketing and counts the pass.
func (e *Engine) EndRenderPass() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passDepth != 1 {
		e.violate("EndRenderPass without matching BeginRenderPass")
		return
	}
	e.passDepth--
	e.counts.RenderPasses++
}

// BindPipeline validates and records the active pipeline.
func (e *Engine) BindPipeline(h cmdstream.PipelineHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pipelines[h]; !ok {
		e.violate("BindPipeline on unknown pipeline %d", h)
	}
	e.boundPipeline = h
}

// BindVertexBuffer validates the bound buffer.
func (e *Engine) BindVertexBuffer(slot uint32, h cmdstream.BufferHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[h]; !ok {
		e.violate("BindVertexBuffer slot %d on unknown buffer %d", slot, h)
	}
}

// BindIndexBuffer validates the bound buffer.
func (e *Engine) BindIndexBuffer(h cmdstream.BufferHandle, format cmdstream.IndexFormat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[h]; !ok {
		e.violate("BindIndexBuffer on unknown buffer %d", h)
	}
}

// Draw counts a draw and validates pass and pipeline state.
func (e *Engine) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkDrawState("Draw")
	e.counts.Draws++
}

// DrawIndexed counts a draw and validates pass and pipeline state.
func (e *Engine) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkDrawState("DrawIndexed")
	e.counts.Draws++
}

// checkDrawState is called with e.mu held.
func (e *Engine) checkDrawState(op string) {
	if e.passDepth == 0 {
		e.violate("%s outside render pass", op)
	}
	desc, ok := e.pipelines[e.boundPipeline]
	if !ok {
		e.violate("%s with no pipeline bound", op)
	} else if desc.IsCompute() {
		e.violate("%s with compute pipeline %q bound", op, desc.Label)
	}
}

// DispatchCompute counts a dispatch and validates pipeline state.
func (e *Engine) DispatchCompute(x, y, z uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passDepth != 0 {
		e.violate("DispatchCompute inside render pass")
	}
	if desc, ok := e.pipelines[e.boundPipeline]; !ok {
		e.violate("DispatchCompute with no pipeline bound")
	} else if !desc.IsCompute() {
		e.violate("DispatchCompute with render pipeline %q bound", desc.Label)
	}
	e.counts.Dispatches++
}

// CopyBuffer validates both regions and counts the copy.
func (e *Engine) CopyBuffer(src, dst cmdstream.BufferHandle, srcOffset, dstOffset, size uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if srcSize, ok := e.buffers[src]; !ok {
		e.violate("CopyBuffer from unknown buffer %d", src)
	} else if uint64(srcOffset)+uint64(size) > uint64(srcSize) {
		e.violate("CopyBuffer reads past source buffer %d", src)
	}
	if dstSize, ok := e.buffers[dst]; !ok {
		e.violate("CopyBuffer into unknown buffer %d", dst)
	} else if uint64(dstOffset)+uint64(size) > uint64(dstSize) {
		e.violate("CopyBuffer writes past destination buffer %d", dst)
	}
	e.counts.Copies++
}

// ReadPixels resolves done with a zeroed RGBA payload of the requested
// extent, clipped against the source texture.
func (e *Engine) ReadPixels(target cmdstream.TextureHandle, x, y, width, height uint32, done *cmdstream.Condition) {
	e.mu.Lock()
	if target == cmdstream.DefaultRenderTarget {
		if e.backWidth == 0 && e.backHeight == 0 {
			e.violate("ReadPixels before any backbuffer pass")
		} else if uint64(x)+uint64(width) > uint64(e.backWidth) ||
			uint64(y)+uint64(height) > uint64(e.backHeight) {
			e.violate("ReadPixels region %dx%d at (%d,%d) exceeds backbuffer %dx%d",
				width, height, x, y, e.backWidth, e.backHeight)
		}
	} else if info, ok := e.textures[target]; !ok {
		e.violate("ReadPixels on unknown texture %d", target)
	} else if uint64(x)+uint64(width) > uint64(info.width) ||
		uint64(y)+uint64(height) > uint64(info.height) {
		e.violate("ReadPixels region %dx%d at (%d,%d) exceeds texture %dx%d",
			width, height, x, y, info.width, info.height)
	}
	e.counts.Readbacks++
	e.mu.Unlock()

	done.ResolveWith(make([]byte, int(width)*int(height)*4))
}

// Finish resolves done. The noop engine executes synchronously, so every
// prior operation has already completed when Finish runs.
func (e *Engine) Finish(done *cmdstream.Condition) {
	done.Resolve()
}

// PushDebugGroup tracks marker nesting.
func (e *Engine) PushDebugGroup(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupDepth++
	cmdstream.Logger().Debug("cmdstream: debug group", "label", label, "depth", e.groupDepth)
}

// PopDebugGroup tracks marker nesting.
func (e *Engine) PopDebugGroup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.groupDepth == 0 {
		e.violate("PopDebugGroup without matching PushDebugGroup")
		return
	}
	e.groupDepth--
}

// ---------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------

// Counts returns a snapshot of the executed-operation counters.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// Violations returns the consistency violations observed so far.
func (e *Engine) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.violations))
	copy(out, e.violations)
	return out
}

// LiveBuffers returns the number of created, not yet destroyed buffers.
func (e *Engine) LiveBuffers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers)
}

// LiveTextures returns the number of created, not yet destroyed textures.
func (e *Engine) LiveTextures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.textures)
}

// LivePipelines returns the number of created, not yet destroyed pipelines.
func (e *Engine) LivePipelines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pipelines)
}
