// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import "testing"

func TestAllocGrowsAndCopiesContent(t *testing.T) {
	s := NewSimulated(0)
	if err := s.Init(4); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s.mem[0] = 0xAB

	newSize, ok := s.Alloc(4, 8)
	if !ok || newSize != 8 {
		t.Fatalf("Alloc: got (%d, %v)", newSize, ok)
	}
	if s.mem[0] != 0xAB {
		t.Fatalf("Alloc lost existing content")
	}
}

func TestAllocFailsAtLimit(t *testing.T) {
	s := NewSimulated(8)
	if err := s.Init(0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := s.Alloc(0, 16); ok {
		t.Fatal("expected Alloc beyond Limit to fail")
	}
}

func TestDeallocShrinks(t *testing.T) {
	s := NewSimulated(0)
	_ = s.Init(16)
	newSize, ok := s.Dealloc(16, 4)
	if !ok || newSize != 4 {
		t.Fatalf("Dealloc: got (%d, %v)", newSize, ok)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	s := NewSimulated(0)
	_ = s.Init(4)
	s.mem[0] = 1

	dupSpace, ok := s.Copy(4)
	if !ok {
		t.Fatal("Copy failed")
	}
	dup := dupSpace.(*Simulated)
	dup.mem[0] = 2

	if s.mem[0] != 1 {
		t.Fatal("Copy aliased the original space's memory")
	}
}

func TestDestroyClearsState(t *testing.T) {
	s := NewSimulated(0)
	_ = s.Init(4)
	s.Destroy()
	if s.size != 0 || s.mem != nil {
		t.Fatal("Destroy did not clear state")
	}
}
