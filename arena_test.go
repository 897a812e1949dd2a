package cmdstream

import (
	"strings"
	"testing"
)

// TestAlignRecord tests rounding up to record alignment.
func TestAlignRecord(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 8},
		{7, 8},
		{8, 8},
		{9, 16},
		{15, 16},
		{16, 16},
		{100, 104},
	}
	for _, tt := range tests {
		if got := alignRecord(tt.n); got != tt.want {
			t.Errorf("alignRecord(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

// TestRecordHeader tests the header encoding both ways, including the
// negative jump offsets wrap records use.
func TestRecordHeader(t *testing.T) {
	var b [recordHeaderSize]byte
	putRecordHeader(b[:], opDraw, 48)
	op, next := readRecordHeader(b[:])
	if op != opDraw || next != 48 {
		t.Errorf("header = (%v, %d), want (%v, 48)", op, next, opDraw)
	}

	putRecordHeader(b[:], opNoop, -56)
	op, next = readRecordHeader(b[:])
	if op != opNoop || next != -56 {
		t.Errorf("header = (%v, %d), want (%v, -56)", op, next, opNoop)
	}
}

// TestCircularBufferAllocate tests cursor advance and used accounting.
func TestCircularBufferAllocate(t *testing.T) {
	c := newCircularBuffer(64)
	if !c.empty() {
		t.Fatal("new buffer not empty")
	}

	b := c.allocate(24)
	if len(b) != 24 {
		t.Fatalf("allocate(24) returned %d bytes", len(b))
	}
	if c.empty() {
		t.Error("buffer empty after allocate")
	}
	if c.head != 24 || c.used != 24 {
		t.Errorf("head, used = %d, %d, want 24, 24", c.head, c.used)
	}

	r := c.getRange()
	want := Range{Begin: 0, End: 24, Size: 24}
	if r != want {
		t.Errorf("getRange() = %+v, want %+v", r, want)
	}
	if !c.empty() {
		t.Error("buffer not empty after getRange")
	}
}

// TestCircularBufferWrap tests that an allocation that cannot fit before
// the physical end writes a backwards jump and continues at offset zero.
func TestCircularBufferWrap(t *testing.T) {
	c := newCircularBuffer(64)
	c.allocate(24)
	c.allocate(24)
	c.getRange() // commit; tail = 48

	// 48 + 24 + 8 > 64, so this wraps.
	c.allocate(24)

	op, next := readRecordHeader(c.buf[48:])
	if op != opNoop || next != -48 {
		t.Errorf("wrap record = (%v, %d), want (%v, -48)", op, next, opNoop)
	}

	r := c.getRange()
	// 16 bytes of wrap waste plus the 24-byte record.
	want := Range{Begin: 48, End: 24, Size: 40}
	if r != want {
		t.Errorf("getRange() = %+v, want %+v", r, want)
	}
}

// TestCircularBufferOverflowPanics tests that committing more bytes than
// the arena holds is fatal rather than silently corrupt.
func TestCircularBufferOverflowPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("getRange() did not panic on overflow")
		}
		if !strings.Contains(r.(string), "arena overflow") {
			t.Errorf("panic = %q, want it to mention the arena overflow", r)
		}
	}()

	c := newCircularBuffer(64)
	// Three 24-byte records never committed: the third wraps and lands on
	// bytes the first still occupies.
	c.allocate(24)
	c.allocate(24)
	c.allocate(24)
	c.getRange()
}

// TestCircularBufferAlignmentAssert tests the checked-build guard against
// unaligned allocations.
func TestCircularBufferAlignmentAssert(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("allocate(10) did not panic")
		}
	}()
	newCircularBuffer(64).allocate(10)
}

// TestRefTable tests slot handout, exactly-once take, and free-slot reuse.
func TestRefTable(t *testing.T) {
	var rt refTable

	a := rt.put("a")
	b := rt.put("b")
	if a == b {
		t.Fatalf("put returned the same slot twice: %d", a)
	}
	if got := rt.outstanding(); got != 2 {
		t.Errorf("outstanding() = %d, want 2", got)
	}

	if got := rt.take(a); got != "a" {
		t.Errorf("take(%d) = %v, want a", a, got)
	}
	if got := rt.outstanding(); got != 1 {
		t.Errorf("outstanding() = %d, want 1", got)
	}

	// The freed slot is reused before the table grows.
	c := rt.put("c")
	if c != a {
		t.Errorf("put after take = slot %d, want reused slot %d", c, a)
	}

	if got := rt.take(b); got != "b" {
		t.Errorf("take(%d) = %v, want b", b, got)
	}
	rt.take(c)
	if got := rt.outstanding(); got != 0 {
		t.Errorf("outstanding() = %d, want 0", got)
	}
}

// TestRefTableDoubleTakePanics tests the checked-build guard against
// consuming a record reference twice.
func TestRefTableDoubleTakePanics(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions compiled out")
	}
	var rt refTable
	idx := rt.put("x")
	rt.take(idx)
	defer func() {
		if recover() == nil {
			t.Fatal("second take did not panic")
		}
	}()
	rt.take(idx)
}
