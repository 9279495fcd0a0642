// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kheap implements the kernel's object heap allocator: a classic
// K&R boundary-tag, first-fit allocator rearchitected on top of pmm
// rather than sbrk. Ported function for function from the
// k_malloc/k_free/kmorecore trio of an xv6-derived kalloc.c: a circular,
// address-ordered free list with a rotating search cursor and full
// coalescing, capped at a fixed number of backing frames.
package kheap

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"stridekernel/internal/klog"
	"stridekernel/pmm"
)

// payloadFrames is the fixed number of frames morecore splices into the
// free list on its one and only successful call (8 frames = 32 KiB of
// payload).
const payloadFrames = 8

// anchorFrames is the extra frame used as the degenerate anchor chunk
// (base_p) that the circular free list always contains.
const anchorFrames = 1

// header is the boundary tag: {next, size}, size measured in units of
// sizeof(header) including the header itself. Written in place at the
// start of every chunk, free or allocated, exactly as kalloc.c's union
// Header overlays the memory it describes.
type header struct {
	next *header
	size int
}

var headerSize = int(unsafe.Sizeof(header{}))

// ErrOutOfHeap is returned once the heap's fixed capacity (payloadFrames
// * pmm.PageSize bytes, minus header overhead) is exhausted. morecore
// succeeds exactly once; every later growth attempt is refused, which
// Allocator surfaces as this named error rather than a silent nil.
var ErrOutOfHeap = errors.New("kheap: out of heap")

// FrameSource is the page-frame supplier this heap grows from. *pmm.
// Allocator satisfies it.
type FrameSource interface {
	Kalloc() (pmm.Frame, error)
}

// Allocator is the object heap allocator. Its zero value is ready to use
// once Frames is set; first Malloc call triggers the one-shot morecore
// acquisition of payloadFrames+anchorFrames frames.
type Allocator struct {
	Frames FrameSource

	mu    sync.Mutex
	freep *header // rotating free-list cursor
	grown bool    // morecore has already run once

	sbrkAddr uintptr // 8th frame's address, the payload base
	// (kalloc.c's sbrk_addr global); reported when a second growth
	// attempt is refused.
}

// unitsFor rounds nbytes up to whole header units plus one unit for the
// header itself, never less than 2: even a zero-byte request carries one
// payload unit, so Malloc can always hand back a real chunk rather than
// a pointer into the anchor.
func unitsFor(nbytes int) int {
	n := (nbytes+headerSize-1)/headerSize + 1
	if n < 2 {
		n = 2
	}
	return n
}

// Malloc allocates nbytes and returns a byte slice of the allocated
// memory, sized to at least nbytes (actual capacity may be larger due to
// unit rounding). Memory is not zeroed. Mirrors k_malloc exactly,
// including first-fit search with a rotating start (freep) and
// tail-splitting.
func (a *Allocator) Malloc(nbytes int) ([]byte, error) {
	if nbytes < 0 {
		panic("kheap: invalid malloc size")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	nunits := unitsFor(nbytes)

	if a.freep == nil {
		if err := a.morecore(); err != nil {
			return nil, err
		}
	}

	prevp := a.freep
	for p := prevp.next; ; prevp, p = p, p.next {
		if p.size >= nunits {
			if p.size == nunits {
				prevp.next = p.next
			} else {
				p.size -= nunits
				p = offsetHeader(p, p.size)
				p.size = nunits
			}
			a.freep = prevp
			klog.L().Debugw("kheap.malloc", "bytes", nbytes, "units", nunits)
			return chunkBytes(p, nbytes), nil
		}
		if p == a.freep {
			if err := a.morecore(); err != nil {
				return nil, err
			}
			// morecore spliced new space onto the list; resume the
			// scan from the (possibly new) freep, exactly as k_malloc's
			// `for(;;)` loop does when kmorecore returns non-zero.
			prevp = a.freep
			p = prevp.next
		}
	}
}

// Free returns memory acquired from Malloc to the free list, coalescing
// with physically adjacent neighbors. Mirrors k_free's pointer-ordered
// scan to locate the correct insertion point in the circular list.
func (a *Allocator) Free(b []byte) {
	if b == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.insertFree(headerBefore(b))
	klog.L().Debugw("kheap.free")
}

// insertFree locates bp's correct position in the circular free list via
// a pointer-ordered scan starting from freep, and coalesces it with
// whichever neighbor(s) it physically touches. Caller must hold a.mu.
// Go has no ordering operators on pointers, so the scan compares
// uintptr addresses instead of the source's direct pointer comparisons;
// the control flow is otherwise identical to k_free's.
func (a *Allocator) insertFree(bp *header) {
	p := a.freep
	for !(addr(bp) > addr(p) && addr(bp) < addr(p.next)) {
		if addr(p) >= addr(p.next) && (addr(bp) > addr(p) || addr(bp) < addr(p.next)) {
			break
		}
		p = p.next
	}

	if offsetHeader(bp, bp.size) == p.next {
		bp.size += p.next.size
		bp.next = p.next.next
	} else {
		bp.next = p.next
	}

	if offsetHeader(p, p.size) == bp {
		p.size += bp.size
		p.next = bp.next
	} else {
		p.next = bp
	}
	a.freep = p
}

// morecore runs exactly once: it draws payloadFrames+anchorFrames frames
// from Frames, verifies the first payloadFrames of them are physically
// contiguous (guaranteed by a LIFO frame allocator drawing from a freshly
// initialized arena, but checked rather than assumed), installs the last
// frame as the anchor (a degenerate zero-size chunk pointing at itself),
// and splices the payload frames in as one large free chunk.
func (a *Allocator) morecore() error {
	if a.grown {
		return fmt.Errorf("%w: heap fixed at %d bytes from %#x, morecore already ran once",
			ErrOutOfHeap, payloadFrames*pmm.PageSize, a.sbrkAddr)
	}
	a.grown = true

	var frames []pmm.Frame
	for i := 0; i < payloadFrames+anchorFrames; i++ {
		f, err := a.Frames.Kalloc()
		if err != nil {
			return fmt.Errorf("%w: acquiring backing frames: %v", ErrOutOfHeap, err)
		}
		frames = append(frames, f)
	}

	// A LIFO free list drawn from a freshly freerange'd arena hands back
	// frames in strictly descending address order, so frames[0] is the
	// highest address among the payload group and frames[payloadFrames-1]
	// the lowest; base is that lowest address.
	base := frames[payloadFrames-1].Addr()
	for i := 0; i < payloadFrames; i++ {
		want := base + uintptr(payloadFrames-1-i)*pmm.PageSize
		if frames[i].Addr() != want {
			panic("kheap: backing frames from Frames.Kalloc are not contiguous")
		}
	}
	a.sbrkAddr = base // the 8th frame's address, lowest of the payload group

	anchor := (*header)(unsafe.Pointer(unsafe.SliceData(frames[payloadFrames])))
	anchor.next = anchor
	anchor.size = 0
	a.freep = anchor

	payload := (*header)(unsafe.Pointer(unsafe.SliceData(frames[payloadFrames-1])))
	payload.size = (payloadFrames * pmm.PageSize) / headerSize

	// k_free(payload+1): splice the payload chunk into the (single-
	// element, self-pointing) free list exactly as kmorecore's call into
	// k_free does.
	a.insertFree(payload)
	return nil
}

func addr(h *header) uintptr { return uintptr(unsafe.Pointer(h)) }

func offsetHeader(h *header, units int) *header {
	return (*header)(unsafe.Pointer(addr(h) + uintptr(units*headerSize)))
}

// chunkBytes views p's payload as a byte slice of length nbytes. The
// capacity always spans the full payload (at least one unit even for
// nbytes == 0), so Free can recover the header from any Malloc result.
func chunkBytes(p *header, nbytes int) []byte {
	base := unsafe.Pointer(addr(p) + uintptr(headerSize))
	return unsafe.Slice((*byte)(base), (p.size-1)*headerSize)[:nbytes]
}

func headerBefore(b []byte) *header {
	return (*header)(unsafe.Pointer(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - uintptr(headerSize)))
}

// Capacity reports the fixed payload capacity in bytes (8 frames), for
// callers diagnosing ErrOutOfHeap.
func Capacity() int { return payloadFrames * pmm.PageSize }
