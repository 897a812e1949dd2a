// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// Queue sizes are rounded up to whole blocks.
const blockSize = 1024

func roundUpBlock(n int) int {
	return (n + blockSize - 1) &^ (blockSize - 1)
}

// CommandBufferQueue owns the command arena and hands committed ranges
// from the record goroutine to the execution goroutine. It implements
// backpressure: a flush that would leave less than the configured minimum
// of free space blocks the producer until the consumer has released
// enough executed ranges.
//
// Exactly one goroutine may produce (Flush) and one consume
// (WaitForCommands, ReleaseBuffer). Pause and exit control may come from
// any goroutine.
type CommandBufferQueue struct {
	buffer *CircularBuffer

	// The shared state below is contended by both goroutines; keep it off
	// the cache line holding the read-mostly buffer pointer.
	_ cpu.CacheLinePad

	mu            sync.Mutex
	space         *sync.Cond // producer waits here for released space
	work          *sync.Cond // consumer waits here for committed ranges
	pending       []Range
	freeSpace     int
	requiredSize  int
	paused        bool
	exitRequested bool
}

// NewCommandBufferQueue creates a queue with the given sizes in bytes.
// requiredSize is the minimum free space a flush insists on before it
// returns control to the producer; it is rounded up to a whole block.
// bufferSize is the arena capacity, clamped to at least requiredSize.
// A queue created paused buffers flushed ranges but withholds them from
// WaitForCommands until SetPaused(false).
func NewCommandBufferQueue(requiredSize, bufferSize int, paused bool) *CommandBufferQueue {
	required := roundUpBlock(requiredSize)
	if bufferSize < required {
		bufferSize = required
	}
	bufferSize = roundUpBlock(bufferSize)

	q := &CommandBufferQueue{
		buffer:       newCircularBuffer(bufferSize),
		freeSpace:    bufferSize,
		requiredSize: required,
		paused:       paused,
	}
	q.space = sync.NewCond(&q.mu)
	q.work = sync.NewCond(&q.mu)
	return q
}

// Buffer returns the arena this queue owns. Streams bind to it at
// construction time.
func (q *CommandBufferQueue) Buffer() *CircularBuffer {
	return q.buffer
}

// Flush commits everything recorded since the last flush and wakes the
// execution goroutine. If the arena is empty it returns immediately.
//
// The range is published before any blocking: it joins the pending list
// and the consumer is woken, so execution can start while the producer
// waits. If debiting its size dropped free space below the required
// minimum, Flush then blocks until the consumer has released enough
// executed ranges; on return the producer always has at least
// requiredSize bytes to record into.
// Blocking while the queue is paused can never resolve, so that case
// panics instead of hanging (see package documentation on fatal errors).
func (q *CommandBufferQueue) Flush() {
	if q.buffer.empty() {
		return
	}
	q.buffer.terminate()
	r := q.buffer.getRange()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.freeSpace -= r.Size
	if debugChecks {
		assertf(q.freeSpace >= 0,
			"committed %d bytes with only %d free; recording overwrote unreleased commands",
			r.Size, q.freeSpace+r.Size)
	}
	q.pending = append(q.pending, r)
	q.work.Signal()

	if q.freeSpace >= q.requiredSize {
		return
	}
	Logger().Debug("cmdstream: flush waiting for free space",
		"need", q.requiredSize, "free", q.freeSpace)
	for q.freeSpace < q.requiredSize {
		if q.paused {
			panic("cmdstream: flush would block while the queue is paused; " +
				"the execution goroutine cannot release space until SetPaused(false) is called")
		}
		if q.exitRequested {
			break
		}
		q.space.Wait()
	}
}

// WaitForCommands blocks until at least one committed range is available
// and the queue is not paused, or until an exit has been requested. It
// returns the entire buffered list and clears it; the caller executes the
// ranges in order and releases each one. After RequestExit it returns
// whatever remains buffered, then nil forever.
func (q *CommandBufferQueue) WaitForCommands() []Range {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.exitRequested && (len(q.pending) == 0 || q.paused) {
		q.work.Wait()
	}
	r := q.pending
	q.pending = nil
	return r
}

// ReleaseBuffer returns an executed range's bytes to the free-space pool
// and wakes a producer blocked in Flush.
func (q *CommandBufferQueue) ReleaseBuffer(r Range) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.freeSpace += r.Size
	if debugChecks {
		assertf(q.freeSpace <= q.buffer.Capacity(),
			"released %d bytes twice? free space %d exceeds capacity %d",
			r.Size, q.freeSpace, q.buffer.Capacity())
	}
	q.space.Signal()
}

// SetPaused suspends or resumes delivery of buffered ranges to the
// consumer. Pausing never drops ranges; they are delivered after the
// next SetPaused(false). Pausing while a producer is blocked in Flush
// turns that flush into a fatal error, since the space it waits for can
// no longer be released.
func (q *CommandBufferQueue) SetPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
	q.space.Broadcast()
	q.work.Broadcast()
}

// RequestExit wakes both sides so the caller can drain remaining ranges
// and tear down. It does not discard buffered work.
func (q *CommandBufferQueue) RequestExit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exitRequested = true
	q.space.Broadcast()
	q.work.Broadcast()
}

// IsExitRequested reports whether RequestExit has been called.
func (q *CommandBufferQueue) IsExitRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exitRequested
}

// Close verifies the queue was drained. All committed ranges must have
// been executed and released before teardown; closing with work pending
// is a programming error reported in checked builds.
func (q *CommandBufferQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if debugChecks {
		assertf(len(q.pending) == 0, "queue closed with %d unexecuted ranges", len(q.pending))
	}
}
