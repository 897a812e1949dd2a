// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

// Loop drives the execution side of a stream/queue pair: it waits for
// committed ranges, executes and releases each one in order, and runs
// the engine's due callbacks between batches. It returns after
// RequestExit once every remaining range has been drained.
//
// Run Loop on its own goroutine. Callers that need custom scheduling can
// replace it with the same WaitForCommands / Execute / ReleaseBuffer
// sequence.
func Loop(s *Stream, q *CommandBufferQueue) {
	log := Logger()
	log.Debug("cmdstream: execution loop started", "engine", s.engine.Name())
	for {
		buffers := q.WaitForCommands()
		if len(buffers) == 0 {
			// Only an exit request produces an empty batch.
			log.Debug("cmdstream: execution loop exiting")
			return
		}
		for _, b := range buffers {
			s.Execute(b)
			q.ReleaseBuffer(b)
		}
		s.engine.Purge()
	}
}
