// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"github.com/gogpu/gputypes"
)

// Stream is the recording façade. One recording method exists per
// asynchronous engine operation; each constructs an operation record in
// the arena and returns without touching the engine. Synchronous engine
// methods (handle allocation, capability queries) pass straight through.
//
// A Stream is bound to one arena and one engine for its lifetime. All
// recording methods must be called from a single goroutine; checked
// builds enforce this. Execute runs on the execution goroutine and is
// the only method that dispatches records.
type Stream struct {
	engine   Engine
	dispatch Dispatcher // captured by value, one indirect call per record
	buffer   *CircularBuffer
	refs     refTable
	trace    bool
	gid      uint64 // owning record goroutine, checked builds only
}

// NewStream binds a Stream to an engine and an arena, capturing the
// engine's dispatch table. The calling goroutine becomes the record
// goroutine.
func NewStream(engine Engine, buffer *CircularBuffer) *Stream {
	s := &Stream{
		engine:   engine,
		dispatch: engine.Dispatcher(),
		buffer:   buffer,
	}
	if debugChecks {
		s.gid = currentGoroutineID()
	}
	return s
}

// SetTrace toggles per-command tracing. While enabled, checked builds
// bracket every recording and synchronous call with the engine's
// DebugCommandBegin and DebugCommandEnd hooks. Builds with the nochecks
// tag compile the bracketing out entirely.
func (s *Stream) SetTrace(enabled bool) {
	s.trace = enabled
}

// AdoptRecordGoroutine transfers record ownership to the calling
// goroutine. Use it when handing the recording side to another goroutine
// at a known quiescent point; it only affects checked-build validation.
func (s *Stream) AdoptRecordGoroutine() {
	if debugChecks {
		s.gid = currentGoroutineID()
	}
}

func (s *Stream) beginCommand(name string) {
	if debugChecks && s.trace {
		s.engine.DebugCommandBegin(name)
	}
}

func (s *Stream) endCommand(name string) {
	if debugChecks && s.trace {
		s.engine.DebugCommandEnd(name)
	}
}

func (s *Stream) checkRecordGoroutine() {
	assertf(currentGoroutineID() == s.gid,
		"recording from goroutine %d; stream is owned by goroutine %d",
		currentGoroutineID(), s.gid)
}

// allocateRecord reserves arena space for one record, writes its header
// and returns the payload span.
func (s *Stream) allocateRecord(op opKind, payloadSize int) []byte {
	if debugChecks {
		s.checkRecordGoroutine()
	}
	size := recordHeaderSize + alignRecord(payloadSize)
	b := s.buffer.allocate(size)
	putRecordHeader(b, op, int32(size))
	return b[recordHeaderSize:]
}

// Allocate returns size bytes of arena scratch space that stay valid
// until the range containing them has been executed and released. The
// walk skips the span, so callers may stage plain data in it (vertex
// bytes, lookup tables) and reference it from records in the same range.
//
// Reclaiming never runs any per-object teardown, so the space must only
// hold plain data: no closures, channels, or anything else needing
// cleanup. align must be a power of two no larger than the record
// alignment.
func (s *Stream) Allocate(size, align int) []byte {
	if debugChecks {
		s.checkRecordGoroutine()
		assertf(size > 0, "allocate size %d must be positive", size)
		assertf(align > 0 && align&(align-1) == 0, "alignment %d must be a power of two", align)
		assertf(align <= recordAlign, "alignment %d exceeds record alignment %d", align, recordAlign)
	}
	total := recordHeaderSize + alignRecord(size)
	b := s.buffer.allocate(total)
	putRecordHeader(b, opNoop, int32(total))
	return b[recordHeaderSize : recordHeaderSize+size]
}

// QueueCommand records a closure to run in order on the execution
// goroutine. This is the escape hatch for operations without a dedicated
// record; it is materially slower than one (the capture escapes to the
// heap and routes through the stream's reference table), so keep it to
// rare paths and debugging.
func (s *Stream) QueueCommand(fn func()) {
	s.beginCommand("QueueCommand")
	w := payloadWriter{b: s.allocateRecord(opCustom, 4)}
	w.putU32(s.refs.put(fn))
	s.endCommand("QueueCommand")
}

// Execute walks one committed range, dispatching every record in
// submission order. It must only be called from the execution goroutine,
// and each range must be executed exactly once. The whole batch runs
// inside the engine's ExecuteBatch bracket.
func (s *Stream) Execute(r Range) {
	buf := s.buffer.bytes()
	s.engine.ExecuteBatch(func() {
		cur := r.Begin
		for {
			op, next := readRecordHeader(buf[cur:])
			var p []byte
			if int(next) > recordHeaderSize {
				p = buf[cur+recordHeaderSize : cur+int(next)]
			}
			s.dispatch.call(op, s.engine, s, p)
			if next == 0 {
				break
			}
			cur += int(next)
		}
	})
}

// ---------------------------------------------------------------------
// Synchronous pass-throughs
// ---------------------------------------------------------------------

// AllocateBufferHandle reserves a buffer handle on the record goroutine.
// Pair it with a recorded CreateBuffer that realizes the buffer later.
func (s *Stream) AllocateBufferHandle() BufferHandle {
	s.beginCommand("AllocateBufferHandle")
	h := s.engine.AllocateBufferHandle()
	s.endCommand("AllocateBufferHandle")
	return h
}

// AllocateTextureHandle reserves a texture handle on the record goroutine.
func (s *Stream) AllocateTextureHandle() TextureHandle {
	s.beginCommand("AllocateTextureHandle")
	h := s.engine.AllocateTextureHandle()
	s.endCommand("AllocateTextureHandle")
	return h
}

// AllocatePipelineHandle reserves a pipeline handle on the record goroutine.
func (s *Stream) AllocatePipelineHandle() PipelineHandle {
	s.beginCommand("AllocatePipelineHandle")
	h := s.engine.AllocatePipelineHandle()
	s.endCommand("AllocatePipelineHandle")
	return h
}

// MaxBufferSize reports the engine's buffer size limit.
func (s *Stream) MaxBufferSize() uint64 {
	s.beginCommand("MaxBufferSize")
	v := s.engine.MaxBufferSize()
	s.endCommand("MaxBufferSize")
	return v
}

// SupportsFormat reports whether the engine can create textures with the
// given format.
func (s *Stream) SupportsFormat(format gputypes.TextureFormat) bool {
	s.beginCommand("SupportsFormat")
	ok := s.engine.SupportsFormat(format)
	s.endCommand("SupportsFormat")
	return ok
}

// ---------------------------------------------------------------------
// Create pairs
// ---------------------------------------------------------------------
//
// The New* helpers combine the synchronous handle allocation with the
// recorded create, so the common path reads as one call. The handle is
// valid in subsequent recorded operations immediately even though the
// engine realizes the resource only when the record executes.

// NewBuffer allocates a handle and records creation of a buffer.
func (s *Stream) NewBuffer(size uint32, usage gputypes.BufferUsage) BufferHandle {
	h := s.AllocateBufferHandle()
	s.CreateBuffer(h, size, usage)
	return h
}

// NewTexture allocates a handle and records creation of a texture.
func (s *Stream) NewTexture(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) TextureHandle {
	h := s.AllocateTextureHandle()
	s.CreateTexture(h, width, height, format, usage)
	return h
}

// NewPipeline allocates a handle and records creation of a pipeline.
func (s *Stream) NewPipeline(desc PipelineDesc) PipelineHandle {
	h := s.AllocatePipelineHandle()
	s.CreatePipeline(h, desc)
	return h
}

// ---------------------------------------------------------------------
// Recording methods
// ---------------------------------------------------------------------

// BeginFrame records the start of a frame.
func (s *Stream) BeginFrame(frame uint64, monotonicNanos int64) {
	s.beginCommand("BeginFrame")
	w := payloadWriter{b: s.allocateRecord(opBeginFrame, 16)}
	w.putU64(frame)
	w.putI64(monotonicNanos)
	s.endCommand("BeginFrame")
}

// EndFrame records the end of a frame.
func (s *Stream) EndFrame(frame uint64) {
	s.beginCommand("EndFrame")
	w := payloadWriter{b: s.allocateRecord(opEndFrame, 8)}
	w.putU64(frame)
	s.endCommand("EndFrame")
}

// CreateBuffer records realization of a buffer reserved with
// AllocateBufferHandle.
func (s *Stream) CreateBuffer(h BufferHandle, size uint32, usage gputypes.BufferUsage) {
	s.beginCommand("CreateBuffer")
	w := payloadWriter{b: s.allocateRecord(opCreateBuffer, 12)}
	w.putU32(uint32(h))
	w.putU32(size)
	w.putU32(uint32(usage))
	s.endCommand("CreateBuffer")
}

// UpdateBuffer records an upload into a buffer region. data is copied
// into the arena, so the caller's slice may be reused immediately.
func (s *Stream) UpdateBuffer(h BufferHandle, offset uint32, data []byte) {
	s.beginCommand("UpdateBuffer")
	w := payloadWriter{b: s.allocateRecord(opUpdateBuffer, 8+bytesSize(len(data)))}
	w.putU32(uint32(h))
	w.putU32(offset)
	w.putBytes(data)
	s.endCommand("UpdateBuffer")
}

// DestroyBuffer records release of a buffer.
func (s *Stream) DestroyBuffer(h BufferHandle) {
	s.beginCommand("DestroyBuffer")
	w := payloadWriter{b: s.allocateRecord(opDestroyBuffer, 4)}
	w.putU32(uint32(h))
	s.endCommand("DestroyBuffer")
}

// CreateTexture records realization of a texture reserved with
// AllocateTextureHandle.
func (s *Stream) CreateTexture(h TextureHandle, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) {
	s.beginCommand("CreateTexture")
	w := payloadWriter{b: s.allocateRecord(opCreateTexture, 20)}
	w.putU32(uint32(h))
	w.putU32(width)
	w.putU32(height)
	w.putU32(uint32(format))
	w.putU32(uint32(usage))
	s.endCommand("CreateTexture")
}

// WriteTexture records a pixel upload into one mip level. data is copied
// into the arena.
func (s *Stream) WriteTexture(h TextureHandle, level uint32, data []byte) {
	s.beginCommand("WriteTexture")
	w := payloadWriter{b: s.allocateRecord(opWriteTexture, 8+bytesSize(len(data)))}
	w.putU32(uint32(h))
	w.putU32(level)
	w.putBytes(data)
	s.endCommand("WriteTexture")
}

// DestroyTexture records release of a texture.
func (s *Stream) DestroyTexture(h TextureHandle) {
	s.beginCommand("DestroyTexture")
	w := payloadWriter{b: s.allocateRecord(opDestroyTexture, 4)}
	w.putU32(uint32(h))
	s.endCommand("DestroyTexture")
}

// CreatePipeline records realization of a pipeline reserved with
// AllocatePipelineHandle. The descriptor's strings are copied into the
// arena.
func (s *Stream) CreatePipeline(h PipelineHandle, desc PipelineDesc) {
	s.beginCommand("CreatePipeline")
	size := 4 +
		bytesSize(len(desc.Label)) +
		bytesSize(len(desc.WGSL)) +
		bytesSize(len(desc.VertexEntry)) +
		bytesSize(len(desc.FragmentEntry)) +
		bytesSize(len(desc.ComputeEntry)) +
		4 + 8 + len(desc.VertexAttrs)*12
	w := payloadWriter{b: s.allocateRecord(opCreatePipeline, size)}
	w.putU32(uint32(h))
	w.putString(desc.Label)
	w.putString(desc.WGSL)
	w.putString(desc.VertexEntry)
	w.putString(desc.FragmentEntry)
	w.putString(desc.ComputeEntry)
	w.putU32(uint32(desc.ColorFormat))
	w.putU32(desc.VertexStride)
	w.putU32(uint32(len(desc.VertexAttrs)))
	for _, a := range desc.VertexAttrs {
		w.putU32(uint32(a.Format))
		w.putU32(a.Offset)
		w.putU32(a.Location)
	}
	s.endCommand("CreatePipeline")
}

// DestroyPipeline records release of a pipeline.
func (s *Stream) DestroyPipeline(h PipelineHandle) {
	s.beginCommand("DestroyPipeline")
	w := payloadWriter{b: s.allocateRecord(opDestroyPipeline, 4)}
	w.putU32(uint32(h))
	s.endCommand("DestroyPipeline")
}

// BeginRenderPass records the start of a render pass.
func (s *Stream) BeginRenderPass(params RenderPassParams) {
	s.beginCommand("BeginRenderPass")
	w := payloadWriter{b: s.allocateRecord(opBeginRenderPass, 52)}
	w.putU32(uint32(params.Target))
	w.putU32(uint32(params.LoadOp))
	w.putU32(uint32(params.StoreOp))
	w.putF64(params.ClearColor.R)
	w.putF64(params.ClearColor.G)
	w.putF64(params.ClearColor.B)
	w.putF64(params.ClearColor.A)
	w.putU32(params.Width)
	w.putU32(params.Height)
	s.endCommand("BeginRenderPass")
}

// EndRenderPass records the end of the current render pass.
func (s *Stream) EndRenderPass() {
	s.beginCommand("EndRenderPass")
	s.allocateRecord(opEndRenderPass, 0)
	s.endCommand("EndRenderPass")
}

// BindPipeline records selection of the active pipeline.
func (s *Stream) BindPipeline(h PipelineHandle) {
	s.beginCommand("BindPipeline")
	w := payloadWriter{b: s.allocateRecord(opBindPipeline, 4)}
	w.putU32(uint32(h))
	s.endCommand("BindPipeline")
}

// BindVertexBuffer records binding of a vertex buffer to a slot.
func (s *Stream) BindVertexBuffer(slot uint32, h BufferHandle) {
	s.beginCommand("BindVertexBuffer")
	w := payloadWriter{b: s.allocateRecord(opBindVertexBuffer, 8)}
	w.putU32(slot)
	w.putU32(uint32(h))
	s.endCommand("BindVertexBuffer")
}

// BindIndexBuffer records binding of the index buffer.
func (s *Stream) BindIndexBuffer(h BufferHandle, format IndexFormat) {
	s.beginCommand("BindIndexBuffer")
	w := payloadWriter{b: s.allocateRecord(opBindIndexBuffer, 8)}
	w.putU32(uint32(h))
	w.putU32(uint32(format))
	s.endCommand("BindIndexBuffer")
}

// Draw records a non-indexed draw call.
func (s *Stream) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	s.beginCommand("Draw")
	w := payloadWriter{b: s.allocateRecord(opDraw, 16)}
	w.putU32(vertexCount)
	w.putU32(instanceCount)
	w.putU32(firstVertex)
	w.putU32(firstInstance)
	s.endCommand("Draw")
}

// DrawIndexed records an indexed draw call.
func (s *Stream) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	s.beginCommand("DrawIndexed")
	w := payloadWriter{b: s.allocateRecord(opDrawIndexed, 20)}
	w.putU32(indexCount)
	w.putU32(instanceCount)
	w.putU32(firstIndex)
	w.putI32(baseVertex)
	w.putU32(firstInstance)
	s.endCommand("DrawIndexed")
}

// DispatchCompute records a compute dispatch.
func (s *Stream) DispatchCompute(x, y, z uint32) {
	s.beginCommand("DispatchCompute")
	w := payloadWriter{b: s.allocateRecord(opDispatchCompute, 12)}
	w.putU32(x)
	w.putU32(y)
	w.putU32(z)
	s.endCommand("DispatchCompute")
}

// CopyBuffer records a copy between two buffers.
func (s *Stream) CopyBuffer(src, dst BufferHandle, srcOffset, dstOffset, size uint32) {
	s.beginCommand("CopyBuffer")
	w := payloadWriter{b: s.allocateRecord(opCopyBuffer, 20)}
	w.putU32(uint32(src))
	w.putU32(uint32(dst))
	w.putU32(srcOffset)
	w.putU32(dstOffset)
	w.putU32(size)
	s.endCommand("CopyBuffer")
}

// ReadPixels records a readback of a texture region. The engine resolves
// done when the pixels are available; see [Condition].
func (s *Stream) ReadPixels(target TextureHandle, x, y, width, height uint32, done *Condition) {
	s.beginCommand("ReadPixels")
	w := payloadWriter{b: s.allocateRecord(opReadPixels, 24)}
	w.putU32(uint32(target))
	w.putU32(x)
	w.putU32(y)
	w.putU32(width)
	w.putU32(height)
	w.putU32(s.refs.put(done))
	s.endCommand("ReadPixels")
}

// Finish records a completion fence. The engine resolves done once every
// operation recorded before it has fully executed.
func (s *Stream) Finish(done *Condition) {
	s.beginCommand("Finish")
	w := payloadWriter{b: s.allocateRecord(opFinish, 4)}
	w.putU32(s.refs.put(done))
	s.endCommand("Finish")
}

// PushDebugGroup records the start of a labeled debug group.
func (s *Stream) PushDebugGroup(label string) {
	s.beginCommand("PushDebugGroup")
	w := payloadWriter{b: s.allocateRecord(opPushDebugGroup, bytesSize(len(label)))}
	w.putString(label)
	s.endCommand("PushDebugGroup")
}

// PopDebugGroup records the end of the current debug group.
func (s *Stream) PopDebugGroup() {
	s.beginCommand("PopDebugGroup")
	s.allocateRecord(opPopDebugGroup, 0)
	s.endCommand("PopDebugGroup")
}
