// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"fmt"
	"runtime"
	"strconv"
)

// assertf panics with a formatted message when cond is false. Hot call
// sites guard with debugChecks so builds tagged nochecks compile the
// whole check out.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("cmdstream: "+format, args...))
	}
}

// currentGoroutineID parses the goroutine id from a stack header.
// Only the checked-build ownership asserts use it; ids never feed into
// program logic.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// The header looks like "goroutine 123 [running]:".
	s := buf[len("goroutine "):n]
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			id, _ := strconv.ParseUint(string(s[:i]), 10, 64)
			return id
		}
	}
	return 0
}
