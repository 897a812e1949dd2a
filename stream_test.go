package cmdstream

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/gogpu/gputypes"
)

// TestRecordReplayOrder tests that a recorded frame replays against the
// engine in exact submission order.
func TestRecordReplayOrder(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	buf := s.NewBuffer(256, gputypes.BufferUsageVertex)
	pipe := s.NewPipeline(PipelineDesc{
		Label:         "tri",
		WGSL:          "shader",
		VertexEntry:   "vs",
		FragmentEntry: "fs",
	})
	s.BeginFrame(1, 42)
	s.UpdateBuffer(buf, 16, []byte{1, 2, 3})
	s.BeginRenderPass(RenderPassParams{Target: DefaultRenderTarget, Width: 8, Height: 8})
	s.BindPipeline(pipe)
	s.BindVertexBuffer(0, buf)
	s.Draw(3, 1, 0, 0)
	s.EndRenderPass()
	s.EndFrame(1)
	q.Flush()
	drainOnce(s, q)

	want := []string{
		fmt.Sprintf("CreateBuffer(0,256,%d)", gputypes.BufferUsageVertex),
		"CreatePipeline(0,tri)",
		"BeginFrame(1,42)",
		"UpdateBuffer(0,16,3)",
		fmt.Sprintf("BeginRenderPass(%d)", DefaultRenderTarget),
		"BindPipeline(0)",
		"BindVertexBuffer(0,0)",
		"Draw(3,1,0,0)",
		"EndRenderPass",
		"EndFrame(1)",
	}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("replay order:\n got %q\nwant %q", got, want)
	}
	if e.batches != 1 {
		t.Errorf("batches = %d, want 1", e.batches)
	}
}

// TestCreatePipelineRoundTrip tests that every descriptor field survives
// the arena encoding, including the vertex layout.
func TestCreatePipelineRoundTrip(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	desc := PipelineDesc{
		Label:         "textured quad",
		WGSL:          "@vertex fn vs() {} @fragment fn fs() {}",
		VertexEntry:   "vs",
		FragmentEntry: "fs",
		ColorFormat:   gputypes.TextureFormatRGBA8Unorm,
		VertexStride:  20,
		VertexAttrs: []VertexAttr{
			{Format: gputypes.VertexFormatFloat32x3, Offset: 0, Location: 0},
			{Format: gputypes.VertexFormatFloat32x2, Offset: 12, Location: 1},
		},
	}
	h := s.NewPipeline(desc)
	q.Flush()
	drainOnce(s, q)

	got, ok := e.pipelines[h]
	if !ok {
		t.Fatalf("pipeline %d never created", h)
	}
	if !reflect.DeepEqual(got, desc) {
		t.Errorf("decoded descriptor:\n got %+v\nwant %+v", got, desc)
	}
}

// TestComputePipelineRoundTrip tests the compute-only descriptor shape.
func TestComputePipelineRoundTrip(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	desc := PipelineDesc{
		Label:        "prefix sum",
		WGSL:         "@compute fn main() {}",
		ComputeEntry: "main",
	}
	h := s.NewPipeline(desc)
	q.Flush()
	drainOnce(s, q)

	got := e.pipelines[h]
	if !reflect.DeepEqual(got, desc) {
		t.Errorf("decoded descriptor:\n got %+v\nwant %+v", got, desc)
	}
	if !got.IsCompute() {
		t.Error("IsCompute() = false after round trip")
	}
}

// TestRenderPassRoundTrip tests clear color and extent decoding.
func TestRenderPassRoundTrip(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	params := RenderPassParams{
		Target:     TextureHandle(7),
		LoadOp:     gputypes.LoadOpClear,
		StoreOp:    gputypes.StoreOpStore,
		ClearColor: gputypes.Color{R: 0.125, G: 0.25, B: 0.5, A: 0.875},
		Width:      1920,
		Height:     1080,
	}
	s.BeginRenderPass(params)
	s.EndRenderPass()
	q.Flush()
	drainOnce(s, q)

	if len(e.passes) != 1 {
		t.Fatalf("passes = %d, want 1", len(e.passes))
	}
	if e.passes[0] != params {
		t.Errorf("decoded params:\n got %+v\nwant %+v", e.passes[0], params)
	}
}

// TestDrawIndexedRoundTrip tests that the signed base vertex survives.
func TestDrawIndexedRoundTrip(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	s.DrawIndexed(6, 2, 3, -5, 7)
	q.Flush()
	drainOnce(s, q)

	want := []string{"DrawIndexed(6,2,3,-5,7)"}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

// TestUpdateBufferCopiesData tests that the payload is captured at record
// time, so the caller may reuse its slice immediately.
func TestUpdateBufferCopiesData(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	data := []byte{10, 20, 30, 40}
	s.UpdateBuffer(BufferHandle(3), 0, data)
	data[0] = 99 // must not be visible to the engine

	q.Flush()
	drainOnce(s, q)

	want := []byte{10, 20, 30, 40}
	if got := e.updates[BufferHandle(3)]; !reflect.DeepEqual(got, want) {
		t.Errorf("engine saw %v, want %v", got, want)
	}
}

// TestAllocateScratch tests that scratch spans are skipped by the replay
// walk and stay readable until the range is released.
func TestAllocateScratch(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	scratch := s.Allocate(12, 4)
	if len(scratch) != 12 {
		t.Fatalf("Allocate(12, 4) returned %d bytes", len(scratch))
	}
	for i := range scratch {
		scratch[i] = byte(i)
	}

	s.Draw(3, 1, 0, 0)
	q.Flush()
	drainOnce(s, q)

	want := []string{"Draw(3,1,0,0)"}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

// TestQueueCommandRunsInOrder tests the closure escape hatch: it must run
// at its slot in the replay order and release its reference table entry.
func TestQueueCommandRunsInOrder(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	s.BeginFrame(1, 0)
	s.QueueCommand(func() { e.record("custom") })
	s.EndFrame(1)
	q.Flush()

	if got := s.refs.outstanding(); got != 1 {
		t.Fatalf("outstanding refs before execute = %d, want 1", got)
	}
	drainOnce(s, q)

	want := []string{"BeginFrame(1,0)", "custom", "EndFrame(1)"}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
	if got := s.refs.outstanding(); got != 0 {
		t.Errorf("outstanding refs after execute = %d, want 0", got)
	}
}

// TestWrapAroundReplay tests that recording far more bytes than the arena
// holds still replays every operation, relying on the wrap jumps.
func TestWrapAroundReplay(t *testing.T) {
	s, q, e := newTestStream(1024, 2048)

	const iterations = 100
	for i := 0; i < iterations; i++ {
		s.BeginFrame(uint64(i), 0)
		s.Draw(3, 1, 0, 0)
		s.EndFrame(uint64(i))
		q.Flush()
		drainOnce(s, q)
	}

	calls := e.callList()
	if got := len(calls); got != iterations*3 {
		t.Fatalf("replayed %d calls, want %d", got, iterations*3)
	}
	for i := 0; i < iterations; i++ {
		if want := fmt.Sprintf("BeginFrame(%d,0)", i); calls[i*3] != want {
			t.Fatalf("call %d = %q, want %q", i*3, calls[i*3], want)
		}
	}
}

// TestReadPixelsDeliversPayload tests the full readback path: condition
// through the reference table, engine resolve, callback with payload.
func TestReadPixelsDeliversPayload(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	cond := e.callbacks.Get()
	s.ReadPixels(TextureHandle(2), 1, 1, 4, 2, cond)

	var payload []byte
	e.callbacks.SetCallback(InlineExecutor{}, func() {
		payload = cond.Payload()
	})

	q.Flush()
	drainOnce(s, q)

	if len(payload) != 4*2*4 {
		t.Errorf("payload = %d bytes, want %d", len(payload), 4*2*4)
	}
	if got := s.refs.outstanding(); got != 0 {
		t.Errorf("outstanding refs = %d, want 0", got)
	}
}

// TestFinishResolvesCondition tests the completion fence record.
func TestFinishResolvesCondition(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	cond := e.callbacks.Get()
	s.Finish(cond)

	fired := false
	e.callbacks.SetCallback(InlineExecutor{}, func() { fired = true })

	q.Flush()
	drainOnce(s, q)

	if !fired {
		t.Error("callback did not fire after Finish replayed")
	}
}

// TestTraceBracketsCommands tests that enabling trace surrounds recording
// calls with the engine's debug hooks.
func TestTraceBracketsCommands(t *testing.T) {
	if !debugChecks {
		t.Skip("tracing compiled out")
	}
	s, q, e := newTestStream(1024, 8192)

	s.SetTrace(true)
	s.Draw(3, 1, 0, 0)
	s.SetTrace(false)
	s.EndRenderPass()
	q.Flush()
	drainOnce(s, q)

	want := []string{"begin:Draw", "end:Draw", "Draw(3,1,0,0)", "EndRenderPass"}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

// TestRecordFromWrongGoroutinePanics tests the checked-build ownership
// assert on recording methods.
func TestRecordFromWrongGoroutinePanics(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	s, _, _ := newTestStream(1024, 8192)

	panicked := make(chan bool, 1)
	go func() {
		defer func() { panicked <- recover() != nil }()
		s.Draw(3, 1, 0, 0)
	}()
	if !<-panicked {
		t.Error("recording from another goroutine did not panic")
	}
}

// TestAdoptRecordGoroutine tests ownership handoff at a quiescent point.
func TestAdoptRecordGoroutine(t *testing.T) {
	s, q, e := newTestStream(1024, 8192)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.AdoptRecordGoroutine()
		s.Draw(1, 1, 0, 0)
		q.Flush()
	}()
	<-done

	drainOnce(s, q)
	want := []string{"Draw(1,1,0,0)"}
	if got := e.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

// TestSynchronousPassThroughs tests the record-goroutine engine queries.
func TestSynchronousPassThroughs(t *testing.T) {
	s, _, _ := newTestStream(1024, 8192)

	if got := s.AllocateBufferHandle(); got != 0 {
		t.Errorf("first buffer handle = %d, want 0", got)
	}
	if got := s.AllocateTextureHandle(); got != 0 {
		t.Errorf("first texture handle = %d, want 0", got)
	}
	if got := s.AllocatePipelineHandle(); got != 0 {
		t.Errorf("first pipeline handle = %d, want 0", got)
	}
	if got := s.MaxBufferSize(); got != 1<<20 {
		t.Errorf("MaxBufferSize() = %d, want %d", got, 1<<20)
	}
	if !s.SupportsFormat(gputypes.TextureFormatRGBA8Unorm) {
		t.Error("SupportsFormat(RGBA8Unorm) = false")
	}
	if s.SupportsFormat(gputypes.TextureFormatUndefined) {
		t.Error("SupportsFormat(Undefined) = true")
	}
}

// TestHandleValidity tests the handle sentinel.
func TestHandleValidity(t *testing.T) {
	if !BufferHandle(0).IsValid() {
		t.Error("BufferHandle(0).IsValid() = false, want true")
	}
	if BufferHandle(InvalidHandle).IsValid() {
		t.Error("invalid buffer handle reported valid")
	}
	if DefaultRenderTarget.IsValid() {
		t.Error("DefaultRenderTarget reported valid")
	}
	if PipelineHandle(InvalidHandle).IsValid() {
		t.Error("invalid pipeline handle reported valid")
	}
}
