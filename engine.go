// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"github.com/gogpu/gputypes"
)

// Engine is the abstract execution engine a Stream records against.
//
// Engines fall into two method families:
//
//   - Asynchronous operations (BeginFrame through PopDebugGroup) are never
//     called directly by user code. The Stream encodes one record per call
//     and the execution goroutine replays it later through the engine's
//     [Dispatcher]. They deliberately return nothing: by the time one runs,
//     the recording call that produced it has long returned.
//
//   - Synchronous methods (handle allocators, capability queries, lifecycle)
//     are called directly from the record goroutine and must be cheap and
//     safe to call concurrently with an executing batch.
//
// Implementations live in engine subpackages and register themselves by
// name; see [Register] and [New].
type Engine interface {
	// Name returns the engine identifier (e.g. "noop", "wgpu").
	Name() string

	// Init brings the engine up. No operations may be recorded against an
	// engine before Init succeeds.
	Init() error

	// Close releases all engine resources. The execution goroutine must be
	// drained first; Close must not be called with operations in flight.
	Close()

	// Dispatcher returns the engine's dispatch table. The Stream captures
	// it by value at construction time, so slots must be populated before
	// the first Stream is built and never change afterwards.
	Dispatcher() Dispatcher

	// ---------------------------------------------------------------------
	// Submit-phase methods (record goroutine, synchronous)
	// ---------------------------------------------------------------------

	// AllocateBufferHandle reserves a handle for a buffer that the matching
	// CreateBuffer operation will realize later on the execution goroutine.
	AllocateBufferHandle() BufferHandle

	// AllocateTextureHandle reserves a handle for a future texture.
	AllocateTextureHandle() TextureHandle

	// AllocatePipelineHandle reserves a handle for a future pipeline.
	AllocatePipelineHandle() PipelineHandle

	// MaxBufferSize reports the engine's buffer size limit in bytes.
	MaxBufferSize() uint64

	// SupportsFormat reports whether the engine can create textures with
	// the given format.
	SupportsFormat(format gputypes.TextureFormat) bool

	// ---------------------------------------------------------------------
	// Callback plumbing
	// ---------------------------------------------------------------------

	// Purge runs callbacks that have become due on the calling goroutine.
	// Callers that route callbacks to their own event loop (see
	// [CallbackManager.SetCallback] with a nil Executor) invoke Purge from
	// that loop.
	Purge()

	// ExecuteBatch wraps the replay of one committed range. Engines can use
	// it for API-level bracketing (debug markers, per-batch fences); fn
	// performs the actual replay and must be called exactly once.
	ExecuteBatch(fn func())

	// DebugCommandBegin and DebugCommandEnd are invoked around every
	// recorded and synchronous call when command tracing is enabled.
	DebugCommandBegin(name string)
	DebugCommandEnd(name string)

	// ---------------------------------------------------------------------
	// Return-phase operations (execution goroutine, replayed in order)
	// ---------------------------------------------------------------------

	// BeginFrame and EndFrame bracket one frame's worth of operations.
	BeginFrame(frame uint64, monotonicNanos int64)
	EndFrame(frame uint64)

	// CreateBuffer realizes the buffer reserved by AllocateBufferHandle.
	CreateBuffer(h BufferHandle, size uint32, usage gputypes.BufferUsage)

	// UpdateBuffer uploads data into a region of a buffer. The data slice
	// aliases the command arena and is only valid for the duration of the
	// call; engines that defer the upload must copy it.
	UpdateBuffer(h BufferHandle, offset uint32, data []byte)

	// DestroyBuffer releases a buffer and retires its handle.
	DestroyBuffer(h BufferHandle)

	// CreateTexture realizes the texture reserved by AllocateTextureHandle.
	CreateTexture(h TextureHandle, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage)

	// WriteTexture uploads pixel data into one mip level of a texture.
	// The same aliasing rule as UpdateBuffer applies.
	WriteTexture(h TextureHandle, level uint32, data []byte)

	// DestroyTexture releases a texture and retires its handle.
	DestroyTexture(h TextureHandle)

	// CreatePipeline realizes the pipeline reserved by
	// AllocatePipelineHandle, compiling desc's shader source as needed.
	CreatePipeline(h PipelineHandle, desc PipelineDesc)

	// DestroyPipeline releases a pipeline and retires its handle.
	DestroyPipeline(h PipelineHandle)

	// BeginRenderPass and EndRenderPass bracket draw operations.
	BeginRenderPass(params RenderPassParams)
	EndRenderPass()

	// BindPipeline selects the pipeline for subsequent draws or dispatches.
	BindPipeline(h PipelineHandle)

	// BindVertexBuffer binds a vertex buffer to a slot.
	BindVertexBuffer(slot uint32, h BufferHandle)

	// BindIndexBuffer binds the index buffer for indexed draws.
	BindIndexBuffer(h BufferHandle, format IndexFormat)

	// Draw issues a non-indexed draw call.
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// DrawIndexed issues an indexed draw call.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	// DispatchCompute dispatches compute workgroups.
	DispatchCompute(x, y, z uint32)

	// CopyBuffer copies a region between two buffers.
	CopyBuffer(src, dst BufferHandle, srcOffset, dstOffset, size uint32)

	// ReadPixels schedules a readback of a texture region. The engine puts
	// done exactly once when the readback bytes are available; the bytes
	// travel through the condition's payload (see [Condition.Resolve]).
	ReadPixels(target TextureHandle, x, y, width, height uint32, done *Condition)

	// Finish resolves done once every operation recorded before it has
	// fully executed on the engine, including GPU-side completion where
	// the engine can observe it.
	Finish(done *Condition)

	// PushDebugGroup and PopDebugGroup delimit a labeled group of
	// operations in the engine's native debugging facility.
	PushDebugGroup(label string)
	PopDebugGroup()
}

// IndexFormat specifies the element type of an index buffer.
type IndexFormat uint32

const (
	// IndexFormatUint16 uses 16-bit unsigned indices.
	IndexFormatUint16 IndexFormat = 0

	// IndexFormatUint32 uses 32-bit unsigned indices.
	IndexFormatUint32 IndexFormat = 1
)

// RenderPassParams describes the attachment state for one render pass.
type RenderPassParams struct {
	// Target is the color attachment. [DefaultRenderTarget] addresses the
	// engine's default backbuffer.
	Target TextureHandle

	// LoadOp selects whether the attachment is cleared or preserved.
	LoadOp gputypes.LoadOp

	// StoreOp selects whether results are written back or discarded.
	StoreOp gputypes.StoreOp

	// ClearColor is applied when LoadOp is LoadOpClear.
	ClearColor gputypes.Color

	// Width and Height give the pass extent in pixels.
	Width, Height uint32
}

// PipelineDesc describes a render or compute pipeline. Exactly one of
// (VertexEntry, FragmentEntry) or ComputeEntry must be populated.
type PipelineDesc struct {
	// Label names the pipeline in engine debug output.
	Label string

	// WGSL is the shader source. Engines compile it at execution time;
	// the wgpu engine lowers it to SPIR-V via naga.
	WGSL string

	// VertexEntry and FragmentEntry are the render stage entry points.
	VertexEntry   string
	FragmentEntry string

	// ComputeEntry is the compute stage entry point.
	ComputeEntry string

	// ColorFormat is the render target format the pipeline outputs to.
	// Ignored for compute pipelines.
	ColorFormat gputypes.TextureFormat

	// VertexStride is the byte stride between consecutive vertices in the
	// slot-0 vertex buffer. Zero means the pipeline reads no vertex
	// buffers and the shader derives positions from the vertex index.
	VertexStride uint32

	// VertexAttrs describes the vertex attributes when VertexStride is
	// nonzero.
	VertexAttrs []VertexAttr
}

// IsCompute reports whether the descriptor describes a compute pipeline.
func (d *PipelineDesc) IsCompute() bool {
	return d.ComputeEntry != ""
}

// VertexAttr describes one attribute of a pipeline's vertex input layout.
type VertexAttr struct {
	// Format is the attribute's element type, e.g.
	// gputypes.VertexFormatFloat32x2.
	Format gputypes.VertexFormat

	// Offset is the attribute's byte offset from the start of a vertex.
	Offset uint32

	// Location is the shader location the attribute feeds.
	Location uint32
}
