// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"encoding/binary"
	"math"
	"sync"
)

// Operation records are stored back-to-back in the command arena. Each
// record is a fixed 8-byte header followed by the operation's arguments,
// encoded little-endian:
//
//	byte 0-1  op    uint16  dispatch table index
//	byte 2-3  _     uint16  reserved, zero
//	byte 4-7  next  int32   relative offset to the next record
//
// next is relative rather than absolute so a committed range stays valid
// if the arena bytes are ever copied before execution. For an ordinary
// record next equals the record's aligned total size. A noop record with
// a negative next jumps backwards (arena wrap-around); a noop with next
// zero terminates the walk.
const (
	recordAlign      = 8
	recordHeaderSize = 8
)

// alignRecord rounds n up to the record alignment.
func alignRecord(n int) int {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

func putRecordHeader(b []byte, op opKind, next int32) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(op))
	binary.LittleEndian.PutUint16(b[2:4], 0)
	binary.LittleEndian.PutUint32(b[4:8], uint32(next))
}

func readRecordHeader(b []byte) (op opKind, next int32) {
	op = opKind(binary.LittleEndian.Uint16(b[0:2]))
	next = int32(binary.LittleEndian.Uint32(b[4:8]))
	return op, next
}

// payloadWriter encodes record arguments into arena bytes.
// All fields are little-endian; byte and string fields are length-prefixed.
type payloadWriter struct {
	b   []byte
	off int
}

func (w *payloadWriter) putU32(v uint32) {
	binary.LittleEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *payloadWriter) putI32(v int32) {
	w.putU32(uint32(v))
}

func (w *payloadWriter) putU64(v uint64) {
	binary.LittleEndian.PutUint64(w.b[w.off:], v)
	w.off += 8
}

func (w *payloadWriter) putI64(v int64) {
	w.putU64(uint64(v))
}

func (w *payloadWriter) putF64(v float64) {
	w.putU64(math.Float64bits(v))
}

func (w *payloadWriter) putBytes(p []byte) {
	w.putU32(uint32(len(p)))
	copy(w.b[w.off:], p)
	w.off += len(p)
}

func (w *payloadWriter) putString(s string) {
	w.putU32(uint32(len(s)))
	copy(w.b[w.off:], s)
	w.off += len(s)
}

// payloadReader decodes record arguments during execution. It is the
// mirror of payloadWriter and must consume fields in the same order.
type payloadReader struct {
	b   []byte
	off int
}

func (r *payloadReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) i32() int32 {
	return int32(r.u32())
}

func (r *payloadReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *payloadReader) i64() int64 {
	return int64(r.u64())
}

func (r *payloadReader) f64() float64 {
	return math.Float64frombits(r.u64())
}

// bytes returns the next length-prefixed field without copying. The
// returned slice aliases the arena and is only valid until the range
// holding it is released.
func (r *payloadReader) bytes() []byte {
	n := int(r.u32())
	p := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return p
}

func (r *payloadReader) str() string {
	return string(r.bytes())
}

// bytesSize returns the encoded size of a length-prefixed field.
func bytesSize(n int) int {
	return 4 + n
}

// refTable carries the captured values that cannot live in arena bytes:
// closures and callback conditions. Records store a slot index; executing
// the record takes the slot, which empties it so the captured value is
// released exactly once. put runs on the record goroutine and take on the
// execution goroutine, so the table is the one record-path structure that
// needs a lock.
type refTable struct {
	mu    sync.Mutex
	slots []any
	free  []uint32
}

func (t *refTable) put(v any) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = v
		return idx
	}
	t.slots = append(t.slots, v)
	return uint32(len(t.slots) - 1)
}

func (t *refTable) take(idx uint32) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.slots[idx]
	if debugChecks {
		assertf(v != nil, "record reference %d already consumed", idx)
	}
	t.slots[idx] = nil
	t.free = append(t.free, idx)
	return v
}

// outstanding reports the number of occupied slots. Used by shutdown
// checks and tests.
func (t *refTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}
