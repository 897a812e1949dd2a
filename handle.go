// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

// Handles identify engine-side resources. A handle's value is allocated on
// the record goroutine (submit phase) before the resource exists, and the
// matching create operation binds the resource to it later on the execution
// goroutine (return phase). Handles are plain integers so they can be stored
// by value inside operation records.

// BufferHandle is a reference to an engine buffer object.
// The zero value is a valid reference to the first allocated buffer.
type BufferHandle uint32

// TextureHandle is a reference to an engine texture object.
type TextureHandle uint32

// PipelineHandle is a reference to an engine render or compute pipeline.
type PipelineHandle uint32

// InvalidHandle is the sentinel value for a handle that references nothing.
const InvalidHandle = ^uint32(0)

// DefaultRenderTarget addresses the engine's default backbuffer in
// [RenderPassParams] instead of a created texture.
const DefaultRenderTarget = TextureHandle(InvalidHandle)

// IsValid returns true if the handle references an allocated buffer.
func (h BufferHandle) IsValid() bool {
	return uint32(h) != InvalidHandle
}

// IsValid returns true if the handle references an allocated texture.
func (h TextureHandle) IsValid() bool {
	return uint32(h) != InvalidHandle
}

// IsValid returns true if the handle references an allocated pipeline.
func (h PipelineHandle) IsValid() bool {
	return uint32(h) != InvalidHandle
}
