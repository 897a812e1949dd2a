// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cmdstream provides deferred GPU command recording and replay for
// the GoGPU ecosystem.
//
// # Overview
//
// cmdstream decouples the goroutine that decides what the GPU should do from
// the goroutine that talks to the GPU. A record goroutine encodes operations
// into a fixed-capacity circular byte buffer through a [Stream]; an execution
// goroutine drains committed buffer ranges through a [CommandBufferQueue] and
// replays each operation, in submission order, against an [Engine].
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/cmdstream"
//	    _ "github.com/gogpu/cmdstream/engine/noop" // registers "noop"
//	)
//
//	engine, _ := cmdstream.New("noop")
//	queue := cmdstream.NewCommandBufferQueue(64<<10, 1<<20, false)
//	stream := cmdstream.NewStream(engine, queue.Buffer())
//
//	// Record goroutine:
//	buf := stream.NewBuffer(1024, gputypes.BufferUsageVertex)
//	stream.BindVertexBuffer(0, buf)
//	stream.Draw(3, 1, 0, 0)
//	queue.Flush()
//
//	// Execution goroutine:
//	cmdstream.Loop(stream, queue)
//
// # Architecture
//
// The pipeline is organized into:
//   - Recording: Stream (one method per operation), CircularBuffer (arena)
//   - Transport: CommandBufferQueue (handoff, backpressure, pause/resume)
//   - Replay: Dispatcher (per-operation executors), Engine (the backend)
//   - Completion: CallbackManager (deferred, refcounted callbacks)
//
// Engines register themselves by name, following the database/sql driver
// pattern; import an engine package for its side effect:
//
//	import _ "github.com/gogpu/cmdstream/engine/wgpu" // registers "wgpu"
//
// # Threading Model
//
// Exactly one goroutine records into a Stream and exactly one executes from
// it. All cross-goroutine traffic flows through the CommandBufferQueue; the
// CallbackManager is the only structure the two sides mutate concurrently.
// Recording methods never block and never touch the Engine, with the
// exception of the documented synchronous queries and the submit-phase
// handle allocators, which must be cheap and goroutine-safe.
//
// # Build Tags
//
//   - nochecks: compiles out the debug assertions (goroutine ownership,
//     alignment and size validation). Leave checks on during development.
//   - nowgpu: excludes the wgpu engine and its GPU dependencies.
package cmdstream

// Version information
const (
	// Version is the current version of the library
	Version = "0.3.0"
)
