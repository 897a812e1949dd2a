package cmdstream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// mockEngine records every replayed operation as a formatted string so
// tests can assert on exact replay order, and keeps typed copies of the
// payloads whose decoded values tests compare structurally.
type mockEngine struct {
	nextBuffer   atomic.Uint32
	nextTexture  atomic.Uint32
	nextPipeline atomic.Uint32

	callbacks *CallbackManager

	mu      sync.Mutex
	calls   []string
	batches int
	purges  int

	pipelines map[PipelineHandle]PipelineDesc
	updates   map[BufferHandle][]byte
	passes    []RenderPassParams

	initErr error
	closed  bool
}

var _ Engine = (*mockEngine)(nil)

func newMockEngine() *mockEngine {
	return &mockEngine{
		callbacks: NewCallbackManager(),
		pipelines: make(map[PipelineHandle]PipelineDesc),
		updates:   make(map[BufferHandle][]byte),
	}
}

// newTestStream wires a stream, queue and mock engine with the given
// arena sizes.
func newTestStream(requiredSize, bufferSize int) (*Stream, *CommandBufferQueue, *mockEngine) {
	e := newMockEngine()
	q := NewCommandBufferQueue(requiredSize, bufferSize, false)
	s := NewStream(e, q.Buffer())
	return s, q, e
}

// drainOnce executes and releases one batch of pending ranges on the
// calling goroutine. The queue must have committed work, otherwise it
// blocks like the execution loop would.
func drainOnce(s *Stream, q *CommandBufferQueue) {
	for _, r := range q.WaitForCommands() {
		s.Execute(r)
		q.ReleaseBuffer(r)
	}
}

func (m *mockEngine) record(format string, args ...any) {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *mockEngine) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Init() error { return m.initErr }

func (m *mockEngine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockEngine) Dispatcher() Dispatcher { return StdDispatcher() }

func (m *mockEngine) AllocateBufferHandle() BufferHandle {
	return BufferHandle(m.nextBuffer.Add(1) - 1)
}

func (m *mockEngine) AllocateTextureHandle() TextureHandle {
	return TextureHandle(m.nextTexture.Add(1) - 1)
}

func (m *mockEngine) AllocatePipelineHandle() PipelineHandle {
	return PipelineHandle(m.nextPipeline.Add(1) - 1)
}

func (m *mockEngine) MaxBufferSize() uint64 { return 1 << 20 }

func (m *mockEngine) SupportsFormat(format gputypes.TextureFormat) bool {
	return format != gputypes.TextureFormatUndefined
}

func (m *mockEngine) Purge() {
	m.mu.Lock()
	m.purges++
	m.mu.Unlock()
	m.callbacks.Purge()
}

func (m *mockEngine) ExecuteBatch(fn func()) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
	fn()
}

func (m *mockEngine) DebugCommandBegin(name string) { m.record("begin:%s", name) }

func (m *mockEngine) DebugCommandEnd(name string) { m.record("end:%s", name) }

func (m *mockEngine) BeginFrame(frame uint64, monotonicNanos int64) {
	m.record("BeginFrame(%d,%d)", frame, monotonicNanos)
}

func (m *mockEngine) EndFrame(frame uint64) {
	m.record("EndFrame(%d)", frame)
}

func (m *mockEngine) CreateBuffer(h BufferHandle, size uint32, usage gputypes.BufferUsage) {
	m.record("CreateBuffer(%d,%d,%d)", h, size, usage)
}

func (m *mockEngine) UpdateBuffer(h BufferHandle, offset uint32, data []byte) {
	m.mu.Lock()
	m.updates[h] = append([]byte(nil), data...)
	m.mu.Unlock()
	m.record("UpdateBuffer(%d,%d,%d)", h, offset, len(data))
}

func (m *mockEngine) DestroyBuffer(h BufferHandle) {
	m.record("DestroyBuffer(%d)", h)
}

func (m *mockEngine) CreateTexture(h TextureHandle, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) {
	m.record("CreateTexture(%d,%d,%d,%d,%d)", h, width, height, format, usage)
}

func (m *mockEngine) WriteTexture(h TextureHandle, level uint32, data []byte) {
	m.record("WriteTexture(%d,%d,%d)", h, level, len(data))
}

func (m *mockEngine) DestroyTexture(h TextureHandle) {
	m.record("DestroyTexture(%d)", h)
}

func (m *mockEngine) CreatePipeline(h PipelineHandle, desc PipelineDesc) {
	m.mu.Lock()
	m.pipelines[h] = desc
	m.mu.Unlock()
	m.record("CreatePipeline(%d,%s)", h, desc.Label)
}

func (m *mockEngine) DestroyPipeline(h PipelineHandle) {
	m.record("DestroyPipeline(%d)", h)
}

func (m *mockEngine) BeginRenderPass(params RenderPassParams) {
	m.mu.Lock()
	m.passes = append(m.passes, params)
	m.mu.Unlock()
	m.record("BeginRenderPass(%d)", params.Target)
}

func (m *mockEngine) EndRenderPass() {
	m.record("EndRenderPass")
}

func (m *mockEngine) BindPipeline(h PipelineHandle) {
	m.record("BindPipeline(%d)", h)
}

func (m *mockEngine) BindVertexBuffer(slot uint32, h BufferHandle) {
	m.record("BindVertexBuffer(%d,%d)", slot, h)
}

func (m *mockEngine) BindIndexBuffer(h BufferHandle, format IndexFormat) {
	m.record("BindIndexBuffer(%d,%d)", h, format)
}

func (m *mockEngine) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	m.record("Draw(%d,%d,%d,%d)", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (m *mockEngine) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	m.record("DrawIndexed(%d,%d,%d,%d,%d)", indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (m *mockEngine) DispatchCompute(x, y, z uint32) {
	m.record("DispatchCompute(%d,%d,%d)", x, y, z)
}

func (m *mockEngine) CopyBuffer(src, dst BufferHandle, srcOffset, dstOffset, size uint32) {
	m.record("CopyBuffer(%d,%d,%d,%d,%d)", src, dst, srcOffset, dstOffset, size)
}

func (m *mockEngine) ReadPixels(target TextureHandle, x, y, width, height uint32, done *Condition) {
	m.record("ReadPixels(%d,%d,%d,%d,%d)", target, x, y, width, height)
	done.ResolveWith(make([]byte, int(width)*int(height)*4))
}

func (m *mockEngine) Finish(done *Condition) {
	m.record("Finish")
	done.Resolve()
}

func (m *mockEngine) PushDebugGroup(label string) {
	m.record("PushDebugGroup(%s)", label)
}

func (m *mockEngine) PopDebugGroup() {
	m.record("PopDebugGroup")
}
