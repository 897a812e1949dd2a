// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"github.com/gogpu/gputypes"
)

// opKind identifies the kind of an operation record.
// The value doubles as the record's dispatch table index.
type opKind uint16

const (
	// Universal records
	opNoop   opKind = iota // Padding, wrap jumps, and range terminators
	opCustom               // Captured closure, executed once

	// Frame records
	opBeginFrame // Start of a frame
	opEndFrame   // End of a frame

	// Resource records
	opCreateBuffer    // Realize a buffer handle
	opUpdateBuffer    // Upload bytes into a buffer
	opDestroyBuffer   // Release a buffer
	opCreateTexture   // Realize a texture handle
	opWriteTexture    // Upload pixels into a texture
	opDestroyTexture  // Release a texture
	opCreatePipeline  // Realize a pipeline handle
	opDestroyPipeline // Release a pipeline

	// Pass and draw records
	opBeginRenderPass  // Start a render pass
	opEndRenderPass    // End the current render pass
	opBindPipeline     // Select the active pipeline
	opBindVertexBuffer // Bind a vertex buffer slot
	opBindIndexBuffer  // Bind the index buffer
	opDraw             // Non-indexed draw
	opDrawIndexed      // Indexed draw
	opDispatchCompute  // Compute dispatch
	opCopyBuffer       // Buffer to buffer copy

	// Completion and debug records
	opReadPixels     // Readback with completion condition
	opFinish         // Completion fence
	opPushDebugGroup // Open a debug group
	opPopDebugGroup  // Close a debug group

	opCount // Number of operation kinds; keep last
)

// opNames maps opKind values to their string representation.
var opNames = [...]string{
	opNoop:             "Noop",
	opCustom:           "Custom",
	opBeginFrame:       "BeginFrame",
	opEndFrame:         "EndFrame",
	opCreateBuffer:     "CreateBuffer",
	opUpdateBuffer:     "UpdateBuffer",
	opDestroyBuffer:    "DestroyBuffer",
	opCreateTexture:    "CreateTexture",
	opWriteTexture:     "WriteTexture",
	opDestroyTexture:   "DestroyTexture",
	opCreatePipeline:   "CreatePipeline",
	opDestroyPipeline:  "DestroyPipeline",
	opBeginRenderPass:  "BeginRenderPass",
	opEndRenderPass:    "EndRenderPass",
	opBindPipeline:     "BindPipeline",
	opBindVertexBuffer: "BindVertexBuffer",
	opBindIndexBuffer:  "BindIndexBuffer",
	opDraw:             "Draw",
	opDrawIndexed:      "DrawIndexed",
	opDispatchCompute:  "DispatchCompute",
	opCopyBuffer:       "CopyBuffer",
	opReadPixels:       "ReadPixels",
	opFinish:           "Finish",
	opPushDebugGroup:   "PushDebugGroup",
	opPopDebugGroup:    "PopDebugGroup",
}

// String returns the string representation of an opKind.
func (o opKind) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "Unknown"
}

// executeFn unpacks one record's payload and invokes the matching engine
// method. p aliases the arena and must not be retained.
type executeFn func(e Engine, s *Stream, p []byte)

// Dispatcher maps operation kinds to their executors. A record's header
// holds its opKind, so executing a record is a single indexed call with
// no secondary lookup.
//
// The table is built before any recording happens and is immutable
// afterwards; Streams capture it by value.
type Dispatcher struct {
	slots [opCount]executeFn
}

// call executes one record. Noop slots are populated too, so traversal
// has no special cases.
func (d *Dispatcher) call(op opKind, e Engine, s *Stream, p []byte) {
	if debugChecks {
		assertf(int(op) < len(d.slots) && d.slots[op] != nil, "no executor for op %v", op)
	}
	d.slots[op](e, s, p)
}

var stdDispatcher = newStdDispatcher()

// StdDispatcher returns the standard dispatch table, which decodes each
// record and calls the corresponding [Engine] method. Engines return it
// from their Dispatcher method unless they substitute specialized
// executors for individual operations.
func StdDispatcher() Dispatcher {
	return stdDispatcher
}

func newStdDispatcher() Dispatcher {
	var d Dispatcher
	d.slots = [opCount]executeFn{
		opNoop:             execNoop,
		opCustom:           execCustom,
		opBeginFrame:       execBeginFrame,
		opEndFrame:         execEndFrame,
		opCreateBuffer:     execCreateBuffer,
		opUpdateBuffer:     execUpdateBuffer,
		opDestroyBuffer:    execDestroyBuffer,
		opCreateTexture:    execCreateTexture,
		opWriteTexture:     execWriteTexture,
		opDestroyTexture:   execDestroyTexture,
		opCreatePipeline:   execCreatePipeline,
		opDestroyPipeline:  execDestroyPipeline,
		opBeginRenderPass:  execBeginRenderPass,
		opEndRenderPass:    execEndRenderPass,
		opBindPipeline:     execBindPipeline,
		opBindVertexBuffer: execBindVertexBuffer,
		opBindIndexBuffer:  execBindIndexBuffer,
		opDraw:             execDraw,
		opDrawIndexed:      execDrawIndexed,
		opDispatchCompute:  execDispatchCompute,
		opCopyBuffer:       execCopyBuffer,
		opReadPixels:       execReadPixels,
		opFinish:           execFinish,
		opPushDebugGroup:   execPushDebugGroup,
		opPopDebugGroup:    execPopDebugGroup,
	}
	return d
}

func execNoop(Engine, *Stream, []byte) {}

func execCustom(_ Engine, s *Stream, p []byte) {
	r := payloadReader{b: p}
	fn := s.refs.take(r.u32()).(func())
	fn()
}

func execBeginFrame(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	frame := r.u64()
	nanos := r.i64()
	e.BeginFrame(frame, nanos)
}

func execEndFrame(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.EndFrame(r.u64())
}

func execCreateBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := BufferHandle(r.u32())
	size := r.u32()
	usage := gputypes.BufferUsage(r.u32())
	e.CreateBuffer(h, size, usage)
}

func execUpdateBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := BufferHandle(r.u32())
	offset := r.u32()
	e.UpdateBuffer(h, offset, r.bytes())
}

func execDestroyBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.DestroyBuffer(BufferHandle(r.u32()))
}

func execCreateTexture(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := TextureHandle(r.u32())
	width := r.u32()
	height := r.u32()
	format := gputypes.TextureFormat(r.u32())
	usage := gputypes.TextureUsage(r.u32())
	e.CreateTexture(h, width, height, format, usage)
}

func execWriteTexture(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := TextureHandle(r.u32())
	level := r.u32()
	e.WriteTexture(h, level, r.bytes())
}

func execDestroyTexture(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.DestroyTexture(TextureHandle(r.u32()))
}

func execCreatePipeline(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := PipelineHandle(r.u32())
	var desc PipelineDesc
	desc.Label = r.str()
	desc.WGSL = r.str()
	desc.VertexEntry = r.str()
	desc.FragmentEntry = r.str()
	desc.ComputeEntry = r.str()
	desc.ColorFormat = gputypes.TextureFormat(r.u32())
	desc.VertexStride = r.u32()
	if n := r.u32(); n > 0 {
		desc.VertexAttrs = make([]VertexAttr, n)
		for i := range desc.VertexAttrs {
			desc.VertexAttrs[i] = VertexAttr{
				Format:   gputypes.VertexFormat(r.u32()),
				Offset:   r.u32(),
				Location: r.u32(),
			}
		}
	}
	e.CreatePipeline(h, desc)
}

func execDestroyPipeline(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.DestroyPipeline(PipelineHandle(r.u32()))
}

func execBeginRenderPass(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	var params RenderPassParams
	params.Target = TextureHandle(r.u32())
	params.LoadOp = gputypes.LoadOp(r.u32())
	params.StoreOp = gputypes.StoreOp(r.u32())
	params.ClearColor = gputypes.Color{R: r.f64(), G: r.f64(), B: r.f64(), A: r.f64()}
	params.Width = r.u32()
	params.Height = r.u32()
	e.BeginRenderPass(params)
}

func execEndRenderPass(e Engine, _ *Stream, _ []byte) {
	e.EndRenderPass()
}

func execBindPipeline(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.BindPipeline(PipelineHandle(r.u32()))
}

func execBindVertexBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	slot := r.u32()
	e.BindVertexBuffer(slot, BufferHandle(r.u32()))
}

func execBindIndexBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	h := BufferHandle(r.u32())
	e.BindIndexBuffer(h, IndexFormat(r.u32()))
}

func execDraw(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.Draw(r.u32(), r.u32(), r.u32(), r.u32())
}

func execDrawIndexed(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	indexCount := r.u32()
	instanceCount := r.u32()
	firstIndex := r.u32()
	baseVertex := r.i32()
	firstInstance := r.u32()
	e.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func execDispatchCompute(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.DispatchCompute(r.u32(), r.u32(), r.u32())
}

func execCopyBuffer(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	src := BufferHandle(r.u32())
	dst := BufferHandle(r.u32())
	e.CopyBuffer(src, dst, r.u32(), r.u32(), r.u32())
}

func execReadPixels(e Engine, s *Stream, p []byte) {
	r := payloadReader{b: p}
	target := TextureHandle(r.u32())
	x := r.u32()
	y := r.u32()
	width := r.u32()
	height := r.u32()
	done := s.refs.take(r.u32()).(*Condition)
	e.ReadPixels(target, x, y, width, height, done)
}

func execFinish(e Engine, s *Stream, p []byte) {
	r := payloadReader{b: p}
	done := s.refs.take(r.u32()).(*Condition)
	e.Finish(done)
}

func execPushDebugGroup(e Engine, _ *Stream, p []byte) {
	r := payloadReader{b: p}
	e.PushDebugGroup(r.str())
}

func execPopDebugGroup(e Engine, _ *Stream, _ []byte) {
	e.PopDebugGroup()
}
