// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"stridekernel/fsabi"
	"stridekernel/internal/klog"
	"stridekernel/kheap"
	"stridekernel/pmm"
	"stridekernel/vm"
)

// ErrNoChildren is returned by Wait when the calling process has no
// children (or has been killed while waiting), matching wait()'s
// "return -1" contract surfaced as an error.
var ErrNoChildren = errors.New("proc: no children")

// ErrNoSuchProcess is returned by Kill when no process with the given
// pid exists, matching kill()'s "return -1" contract.
var ErrNoSuchProcess = errors.New("proc: no such process")

// SpaceFactory constructs a fresh, uninitialized address space for a new
// process. ProcTable never constructs a vm.Space directly, so callers
// can supply vm.NewSimulated or any other Space implementation.
type SpaceFactory func() vm.Space

// FrameSource supplies and reclaims the kernel stack frame backing each
// process. *pmm.Allocator satisfies it.
type FrameSource interface {
	Kalloc() (pmm.Frame, error)
	Kfree(pmm.Frame) error
}

// procSlotBytes approximates sizeof(struct proc) from the C source, used
// only to charge kheap capacity per live process; it is never
// interpreted as a memory layout (see DESIGN.md's "process slot via
// heap" resolution).
const procSlotBytes = 128

// ProcTable is the kernel's process table: the intrusive run queue, the
// stride-scheduling bookkeeping, and the lifecycle operations that
// mutate them. It bundles the C source's global `ptable` plus the free
// functions that operated on it (fork/exit/wait/...), since Go has no
// hidden package-global kernel state to hang them off of.
type ProcTable struct {
	mu           sync.Mutex
	head         *Proc // sentinel ring head, never itself RUNNABLE
	minPassValue int64
	nextPID      int
	initProc     *Proc

	Files  fsabi.Files
	Frames FrameSource
	Space  SpaceFactory

	// Heap is optional: when set, every allocated process draws
	// procSlotBytes from it purely for capacity accounting, so heap
	// exhaustion genuinely bounds the number of live processes. A nil
	// Heap leaves process count unbounded by heap capacity, useful for
	// scheduler-only tests.
	Heap *kheap.Allocator
}

// NewProcTable constructs an empty process table backed by files for
// filesystem operations, frames for kernel stacks, and space for address
// spaces.
func NewProcTable(files fsabi.Files, frames FrameSource, space SpaceFactory) *ProcTable {
	head := &Proc{}
	initList(head)
	return &ProcTable{
		head:    head,
		nextPID: 1,
		Files:   files,
		Frames:  frames,
		Space:   space,
	}
}

// allocProc looks for room for a new process: draws optional heap
// capacity, links a fresh Proc into the run queue as EMBRYO, assigns it
// a pid, and gives it a kernel stack frame. Ported from allocproc.
func (t *ProcTable) allocProc() (*Proc, error) {
	t.mu.Lock()

	var slot []byte
	if t.Heap != nil {
		b, err := t.Heap.Malloc(procSlotBytes)
		if err != nil {
			t.mu.Unlock()
			return nil, fmt.Errorf("proc: allocproc: %w", err)
		}
		slot = b
	}

	p := &Proc{table: t, heapSlot: slot}
	listAddTail(t.head, p)
	initializeStrideInfo(p)
	p.State = Embryo
	p.Pid = t.nextPID
	t.nextPID++

	t.mu.Unlock()

	kstack, err := t.Frames.Kalloc()
	if err != nil {
		t.mu.Lock()
		listDelInit(p)
		p.State = Unused
		t.mu.Unlock()
		if t.Heap != nil && slot != nil {
			t.Heap.Free(slot)
		}
		return nil, fmt.Errorf("proc: allocproc: kernel stack: %w", err)
	}
	p.KStack = kstack

	// Carve the saved trap frame into the top of the kernel stack, the
	// same in-place layout allocproc builds with sp. The trapret word and
	// saved context that follow it in the C source are replaced by the
	// schedCh/yieldCh handoff pair (see scheduler.go).
	sp := kStackSize - int(unsafe.Sizeof(TrapFrame{}))
	p.TF = (*TrapFrame)(unsafe.Pointer(&kstack[sp]))
	*p.TF = TrapFrame{}
	p.schedCh = make(chan struct{})
	p.yieldCh = make(chan struct{})

	klog.L().Debugw("proc.allocproc", "pid", p.Pid)
	return p, nil
}

// releaseProc returns p's kernel stack, address space, and heap
// accounting bytes. Shared by the allocation-failure rollback paths and
// by Wait's reap of an exited child.
func (t *ProcTable) releaseProc(p *Proc) {
	if p.KStack != nil {
		_ = t.Frames.Kfree(p.KStack)
	}
	if p.Space != nil {
		p.Space.Destroy()
	}
	if t.Heap != nil && p.heapSlot != nil {
		t.Heap.Free(p.heapSlot)
	}
}

// Userinit creates the first process in the table: a fresh, Runnable
// process named "initcode" rooted at the filesystem root. Matches
// userinit().
func (t *ProcTable) Userinit(sizeHint int) (*Proc, error) {
	p, err := t.allocProc()
	if err != nil {
		return nil, fmt.Errorf("proc: userinit: %w", err)
	}

	p.Space = t.Space()
	if err := p.Space.Init(sizeHint); err != nil {
		return nil, fmt.Errorf("proc: userinit: %w", err)
	}
	p.Size = sizeHint
	p.TF.CS = segUCode<<3 | dplUser
	p.TF.DS = segUData<<3 | dplUser
	p.TF.ES = p.TF.DS
	p.TF.SS = p.TF.DS
	p.TF.Eflags = flagIF
	p.TF.Esp = pmm.PageSize
	p.TF.Eip = 0 // beginning of the init program
	p.SetName("initcode")
	p.Cwd = t.Files.Root()

	t.mu.Lock()
	t.initProc = p
	p.State = Runnable
	t.mu.Unlock()

	klog.L().Debugw("proc.userinit", "pid", p.Pid)
	return p, nil
}

// Growproc grows (n > 0) or shrinks (n < 0) p's address space by n
// bytes. Matches growproc(); allocation failure is a plain error here
// rather than growproc's -1 return, since callers already distinguish
// errors idiomatically.
func (t *ProcTable) Growproc(p *Proc, n int) error {
	sz := p.Size
	switch {
	case n > 0:
		newSz, ok := p.Space.Alloc(sz, sz+n)
		if !ok {
			return errors.New("proc: growproc: out of memory")
		}
		sz = newSz
	case n < 0:
		newSz, ok := p.Space.Dealloc(sz, sz+n)
		if !ok {
			return errors.New("proc: growproc: dealloc failed")
		}
		sz = newSz
	}
	p.Size = sz
	return nil
}

// Fork creates a new process copying cur as the parent: duplicates its
// address space, trap frame (with Eax cleared, so the child observes a
// 0 return), and open-file table, and enqueues it RUNNABLE with the
// table's current minimum pass value so it joins the run queue fairly.
// body is what the child runs once first dispatched (the counterpart
// of the child resuming at forkret), and must be bound here, before the
// child becomes RUNNABLE: a CPU may dispatch it the instant the table
// lock drops. Matches fork().
func (t *ProcTable) Fork(cur *Proc, body func(p *Proc)) (*Proc, error) {
	np, err := t.allocProc()
	if err != nil {
		return nil, fmt.Errorf("proc: fork: %w", err)
	}

	space, ok := cur.Space.Copy(cur.Size)
	if !ok {
		t.mu.Lock()
		listDelInit(np)
		np.State = Unused
		t.mu.Unlock()
		t.releaseProc(np)
		return nil, errors.New("proc: fork: address space copy failed")
	}
	np.Space = space
	np.Size = cur.Size
	np.Parent = cur
	*np.TF = *cur.TF

	// Clear Eax so that fork returns 0 in the child.
	np.TF.Eax = 0

	for i, f := range cur.Files {
		if f != nil {
			np.Files[i] = f.Dup()
		}
	}
	np.Cwd = t.Files.Dup(cur.Cwd)
	np.SetName(cur.Name())
	np.body = body

	t.mu.Lock()
	np.State = Runnable
	t.assignMinPassValue(np)
	t.mu.Unlock()

	klog.L().Debugw("proc.fork", "parent", cur.Pid, "child", np.Pid)
	return np, nil
}

// ProcSummary is one line of a procdump-style listing.
type ProcSummary struct {
	Pid   int
	State string
	Name  string
}

// Dump returns a snapshot of every non-UNUSED process. Deliberately
// takes no lock, matching procdump()'s own comment ("No lock to avoid
// wedging a stuck machine further"); the result may be torn under
// concurrent mutation, acceptable for a debug listing.
func (t *ProcTable) Dump() []ProcSummary {
	var out []ProcSummary
	listForEach(t.head, func(p *Proc) {
		if p.State == Unused {
			return
		}
		out = append(out, ProcSummary{Pid: p.Pid, State: p.State.String(), Name: p.Name()})
	})
	return out
}
