// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nochecks

package cmdstream

// debugChecks enables goroutine-ownership, alignment and lifecycle
// asserts. Build with -tags nochecks to remove them.
const debugChecks = true
