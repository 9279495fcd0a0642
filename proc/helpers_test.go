// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"testing"

	"stridekernel/fsabi"
	"stridekernel/pmm"
	"stridekernel/vm"
)

// framesFixture returns a ready-to-use frame allocator with n frames,
// cleaned up automatically at test end.
func framesFixture(t *testing.T, n int) *pmm.Allocator {
	t.Helper()
	a, err := pmm.NewArena(n)
	if err != nil {
		t.Fatalf("pmm.NewArena: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	a.Init1(a.KernelEnd(), a.EarlyTop())
	a.Init2(a.EarlyTop(), a.PhysTop())
	return a
}

func newTestTableWithFrames(t *testing.T, nFrames int) *ProcTable {
	t.Helper()
	files := fsabi.NewSimulated("/")
	frames := framesFixture(t, nFrames)
	return NewProcTable(files, frames, func() vm.Space { return vm.NewSimulated(1 << 20) })
}
