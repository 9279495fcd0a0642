// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm defines the address-space collaborator the process
// lifecycle grows and copies, standing in for xv6's MMU/page-table
// layer (growproc's allocuvm/deallocuvm and fork's copyuvm).
//
// Simulated, the only implementation here, is an in-memory stand-in used
// by tests and the demo CLI. It is never presented as a real MMU: no
// page tables, no protection bits, just a byte-count ledger with the
// same success/failure contract as allocuvm/deallocuvm.
package vm

import (
	"fmt"
	"sync"
)

// Space is an address space. Alloc/Dealloc mirror allocuvm/deallocuvm's
// failure contract, reported as "(oldSize, false)" rather than an error,
// since growproc in the C source treats allocation failure as a
// recoverable, non-fatal condition (the caller rolls the process size
// back and continues).
type Space interface {
	Init(sizeHint int) error
	Alloc(oldSize, newSize int) (int, bool)
	Dealloc(oldSize, newSize int) (int, bool)
	Copy(size int) (Space, bool)
	Destroy()
}

// Simulated is an in-memory Space: a single byte slice sized to the
// address space's current extent. Growth beyond Limit fails exactly like
// a real allocuvm hitting a physical memory ceiling.
type Simulated struct {
	// Limit bounds how large this address space may grow. Zero means
	// unbounded, matching a VM with no configured ceiling.
	Limit int

	mu   sync.Mutex
	mem  []byte
	size int
}

var _ Space = (*Simulated)(nil)

// NewSimulated returns a Simulated address space with the given growth
// limit (0 for unbounded).
func NewSimulated(limit int) *Simulated {
	return &Simulated{Limit: limit}
}

func (s *Simulated) Init(sizeHint int) error {
	if sizeHint < 0 {
		return fmt.Errorf("vm: negative size hint %d", sizeHint)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem = make([]byte, sizeHint)
	s.size = sizeHint
	return nil
}

// Alloc grows the space from oldSize to newSize. It fails (returns
// oldSize, false) rather than erroring if newSize would exceed Limit,
// matching allocuvm's "ran out of physical memory" non-fatal path.
func (s *Simulated) Alloc(oldSize, newSize int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newSize < oldSize {
		return oldSize, false
	}
	if s.Limit > 0 && newSize > s.Limit {
		return oldSize, false
	}
	grown := make([]byte, newSize)
	copy(grown, s.mem)
	s.mem = grown
	s.size = newSize
	return newSize, true
}

// Dealloc shrinks the space from oldSize to newSize, matching
// deallocuvm. Shrinking never fails.
func (s *Simulated) Dealloc(oldSize, newSize int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newSize >= oldSize {
		return oldSize, false
	}
	if newSize < 0 {
		newSize = 0
	}
	s.mem = s.mem[:newSize]
	s.size = newSize
	return newSize, true
}

// Copy duplicates size bytes of this space into a freshly allocated
// Simulated, mirroring copyuvm's full-address-space duplication used by
// fork.
func (s *Simulated) Copy(size int) (Space, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size > s.size {
		return nil, false
	}
	dup := &Simulated{Limit: s.Limit, size: size}
	dup.mem = make([]byte, size)
	copy(dup.mem, s.mem[:size])
	return dup, true
}

// Destroy releases the space's backing memory, matching freevm.
func (s *Simulated) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem = nil
	s.size = 0
}
