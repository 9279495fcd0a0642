// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pmm implements the kernel's page frame allocator: a LIFO free
// list of fixed 4 KiB physical frames carved out of a single simulated
// physical memory region, [kernelEnd, PhysTop).
//
// The algorithm is xv6 kalloc.c's kinit1/kinit2/kalloc/kfree/freerange,
// ported function for function. The backing is one mmap'd region treated
// as physical memory, and the free-list headers are written in place
// into the frames they describe via unsafe.Pointer rather than held in a
// side table, as mmap-backed allocators like github.com/cznic/memory do.
package pmm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"stridekernel/internal/klog"
)

// PageSize is the fixed frame size (xv6's PGSIZE).
const PageSize = 4096

// earlyFrames bounds the frames Init1 seeds during single-CPU bring-up;
// Init2 adds the remainder and enables locking. The same split kinit1's
// early 4 MB mapping gives the real kernel, scaled to simulated arenas.
const earlyFrames = 8

var (
	osPageSize = os.Getpagesize()
	osPageMask = osPageSize - 1
)

// ErrOutOfFrames is returned by Kalloc when the free list is empty.
var ErrOutOfFrames = errors.New("pmm: out of frames")

// frameNode is the in-place LIFO free-list header. It is written into the
// first bytes of a free frame, exactly as xv6 kalloc.c's
// `struct run { struct run *next; }` is written into the page it frees.
type frameNode struct {
	next *frameNode
}

// Frame is a handle to one allocated or free 4 KiB physical frame. It is a
// slice view directly into the allocator's arena; callers own the bytes
// until they Kfree it.
type Frame []byte

// Addr returns the frame's address within the simulated physical address
// space, for alignment/range checks and debug output.
func (f Frame) Addr() uintptr {
	if len(f) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&f[0]))
}

// Allocator is the page frame allocator. Its zero value is not ready to
// use; it needs a backing arena. Call NewArena then Init1/Init2,
// mirroring kinit1/kinit2's two-phase bring-up.
type Allocator struct {
	mu        sync.Mutex
	useLock   bool
	arena     []byte
	kernelEnd uintptr
	physTop   uintptr
	free      *frameNode
}

// NewArena reserves nFrames*PageSize bytes of simulated physical memory
// and returns an Allocator over it. The arena's start plays the role of
// the kernel-end symbol; PhysTop is its end.
func NewArena(nFrames int) (*Allocator, error) {
	if nFrames <= 0 {
		return nil, fmt.Errorf("pmm: nFrames must be positive, got %d", nFrames)
	}
	b, err := mmap(nFrames * PageSize)
	if err != nil {
		return nil, fmt.Errorf("pmm: reserving arena: %w", err)
	}
	a := &Allocator{arena: b}
	a.kernelEnd = uintptr(unsafe.Pointer(&b[0]))
	a.physTop = a.kernelEnd + uintptr(len(b))
	return a, nil
}

// Close releases the arena's backing memory. Not part of the original
// kernel (which never unmaps physical memory) but necessary so repeated
// tests don't exhaust the host's address space.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = nil
	arena := a.arena
	a.arena = nil
	return munmap(arena)
}

// KernelEnd and PhysTop expose the arena bounds Kfree validates against.
func (a *Allocator) KernelEnd() uintptr { return a.kernelEnd }
func (a *Allocator) PhysTop() uintptr   { return a.physTop }

// EarlyTop returns the end of the region a boot path hands to Init1
// before giving the rest of the arena to Init2. Arenas smaller than the
// early region are seeded entirely by Init1; Init2 then only enables
// locking.
func (a *Allocator) EarlyTop() uintptr {
	top := a.kernelEnd + earlyFrames*PageSize
	if top > a.physTop {
		top = a.physTop
	}
	return top
}

// Init1 populates the free list covering [lo, hi) with locking disabled,
// matching kinit1: called once, single-threaded, before other CPUs or
// interrupts can race the allocator.
func (a *Allocator) Init1(lo, hi uintptr) {
	a.useLock = false
	a.freerange(lo, hi)
}

// Init2 populates the remaining range [lo, hi) and then turns locking on
// for all subsequent Kalloc/Kfree calls, matching kinit2.
func (a *Allocator) Init2(lo, hi uintptr) {
	a.freerange(lo, hi)
	a.useLock = true
}

// Freerange frees every page-aligned frame fully contained in [lo, hi).
func (a *Allocator) Freerange(lo, hi uintptr) { a.freerange(lo, hi) }

func (a *Allocator) freerange(lo, hi uintptr) {
	p := pageRoundUp(lo)
	for p+PageSize <= hi {
		if err := a.Kfree(a.frameAt(p)); err != nil {
			panic(err)
		}
		p += PageSize
	}
}

func (a *Allocator) frameAt(addr uintptr) Frame {
	off := addr - a.kernelEnd
	return Frame(a.arena[off : off+PageSize])
}

func pageRoundUp(a uintptr) uintptr {
	return (a + PageSize - 1) &^ (PageSize - 1)
}

// Kalloc pops and returns the head of the free list, or ErrOutOfFrames if
// none remain. The returned frame's contents are whatever kfree last
// wrote there (the 0x01 poison pattern, except for the leading bytes that
// held the in-place free-list header); Kalloc never zeroes.
func (a *Allocator) Kalloc() (Frame, error) {
	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	r := a.free
	if r == nil {
		klog.L().Debugw("pmm.kalloc out of frames")
		return nil, ErrOutOfFrames
	}
	a.free = r.next

	off := uintptr(unsafe.Pointer(r)) - a.kernelEnd
	f := Frame(a.arena[off : off+PageSize])
	klog.L().Debugw("pmm.kalloc", "addr", f.Addr())
	return f, nil
}

// Kfree returns a frame to the free list after poisoning it with 0x01 to
// catch dangling reads. It panics with an InvalidFree-style message if v
// is not page-aligned, is below kernelEnd, or extends past PhysTop,
// mirroring kalloc.c's `panic("kfree")`.
func (a *Allocator) Kfree(v Frame) error {
	addr := v.Addr()
	if addr%PageSize != 0 || addr < a.kernelEnd || addr+PageSize > a.physTop || len(v) != PageSize {
		panic(fmt.Sprintf("pmm: invalid free of frame at %#x", addr))
	}

	for i := range v {
		v[i] = 0x01
	}

	if a.useLock {
		a.mu.Lock()
		defer a.mu.Unlock()
	}

	r := (*frameNode)(unsafe.Pointer(&v[0]))
	r.next = a.free
	a.free = r
	klog.L().Debugw("pmm.kfree", "addr", addr)
	return nil
}
