// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nowgpu

package wgpu

import "github.com/gogpu/cmdstream"

// Name is the identifier the engine registers under.
const Name = "wgpu"

// init registers a nil-returning factory when the nowgpu tag is set. The
// module compiles without the HAL stack while cmdstream.New("wgpu") still
// resolves the name and reports the engine as unavailable.
func init() {
	cmdstream.Register(Name, func() cmdstream.Engine {
		return nil
	})
}
