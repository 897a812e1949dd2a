// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"golang.org/x/sys/cpu"
)

// CircularBuffer is the fixed-capacity byte arena that operation records
// are constructed into. The record goroutine appends monotonically; when
// an allocation does not fit before the physical end, the buffer writes a
// noop record that jumps back to the start, so a committed range walks
// correctly across the wrap with no special cases.
//
// A CircularBuffer is single-writer. Only the record goroutine may call
// allocate and getRange; the execution goroutine reads committed ranges
// through bytes(). Free-space accounting lives in CommandBufferQueue, not
// here: the buffer itself never blocks and never fails, and an overrun is
// detected when the range is committed.
type CircularBuffer struct {
	buf []byte

	_ cpu.CacheLinePad // keep the write cursor off the readers' cache line

	head int // write cursor
	tail int // start of the uncommitted range
	used int // bytes consumed since the last getRange, including wrap waste
}

func newCircularBuffer(capacity int) *CircularBuffer {
	return &CircularBuffer{buf: make([]byte, capacity)}
}

// Capacity returns the buffer's total size in bytes.
func (c *CircularBuffer) Capacity() int {
	return len(c.buf)
}

// bytes exposes the backing storage for record execution.
func (c *CircularBuffer) bytes() []byte {
	return c.buf
}

// empty reports whether any records were written since the last commit.
func (c *CircularBuffer) empty() bool {
	return c.used == 0
}

// allocate returns n bytes at the current write position and advances the
// cursor. n must be a positive multiple of the record alignment. The
// allocation always leaves room for one trailing record header so that a
// wrap jump or terminator can be placed behind it.
func (c *CircularBuffer) allocate(n int) []byte {
	if debugChecks {
		assertf(n > 0, "allocate size %d must be positive", n)
		assertf(n%recordAlign == 0, "allocate size %d not %d-byte aligned", n, recordAlign)
		assertf(n+recordHeaderSize <= len(c.buf), "allocation of %d bytes exceeds arena capacity %d", n, len(c.buf))
	}
	if c.head+n+recordHeaderSize > len(c.buf) {
		// Wrap: the jump consumes the rest of the physical buffer.
		putRecordHeader(c.buf[c.head:], opNoop, int32(-c.head))
		c.used += len(c.buf) - c.head
		c.head = 0
	}
	b := c.buf[c.head : c.head+n : c.head+n]
	c.head += n
	c.used += n
	return b
}

// terminate appends the noop record that ends a committed range's walk.
func (c *CircularBuffer) terminate() {
	b := c.allocate(recordHeaderSize)
	putRecordHeader(b, opNoop, 0)
}

// getRange commits the written-but-uncommitted span and logically clears
// it. Overrun is detected here: if more bytes were written since the last
// commit than the arena holds, older records were overwritten and the
// stream contents are unrecoverable.
func (c *CircularBuffer) getRange() Range {
	if c.used > len(c.buf) {
		panic("cmdstream: command arena overflow; records are corrupted and unrecoverable. " +
			"Increase the buffer size passed to NewCommandBufferQueue, or flush more often.")
	}
	r := Range{Begin: c.tail, End: c.head, Size: c.used}
	c.tail = c.head
	c.used = 0
	return r
}

// Range is one committed span of the arena: a batch of records produced
// by one flush and executed as a unit. Begin and End are arena offsets;
// End may be smaller than Begin when the range wraps. Size is the number
// of arena bytes the range consumes, counting wrap waste, and is what
// ReleaseBuffer returns to the free-space pool.
type Range struct {
	Begin int
	End   int
	Size  int
}
