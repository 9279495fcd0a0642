// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proc implements the kernel's process table and stride
// scheduler: an intrusive run queue of processes, stride-weighted
// selection of the next process to run, and the
// fork/exit/wait/sleep/wakeup/kill/yield lifecycle operations that
// mutate it.
//
// Ported from the proc.c of an xv6 variant extended with stride
// scheduling. A real kernel's context switch (swtch/forkret/trapret)
// has no Go equivalent, so each process runs its body on its own
// goroutine, parked on a channel until a CPU's scheduler loop
// dispatches it (see scheduler.go).
package proc

import (
	"stridekernel/fsabi"
	"stridekernel/pmm"
	"stridekernel/vm"
)

// State is a process's scheduling state, matching proc.h's enum
// procstate in both order and zero value: an unused, zero-initialized
// Proc already has State == Unused, same as a zeroed struct proc.
type State int

const (
	Unused State = iota
	Embryo
	Sleeping
	Runnable
	Running
	Zombie
)

var stateNames = [...]string{
	Unused:   "unused",
	Embryo:   "embryo",
	Sleeping: "sleep",
	Runnable: "runble",
	Running:  "run",
	Zombie:   "zombie",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "???"
	}
	return stateNames[s]
}

// NOFILE bounds the fixed-size open-file table (proc.h/param.h's
// #define NOFILE 16).
const NOFILE = 16

// nameLen is the fixed debug-name buffer length (proc.h: char name[16]).
const nameLen = 16

// kStackSize is the per-process kernel stack size (KSTACKSIZE): one
// frame. The trap frame is carved at kstack+kStackSize downward, as the
// source does with sp.
const kStackSize = pmm.PageSize

// Segment selectors and flag bits for the user-mode trap frame, the
// same values userinit writes in the C source (mmu.h's SEG_UCODE/
// SEG_UDATA/DPL_USER and x86.h's FL_IF).
const (
	segUCode = 3
	segUData = 4
	dplUser  = 3
	flagIF   = 0x200
)

// TrapFrame is the saved user-mode register state at kernel entry,
// carved into the top of the process's kernel stack by allocProc. Only
// the registers the lifecycle itself reads or writes are modeled: fork
// copies the whole frame and zeroes Eax so the child observes a 0
// return, userinit points Eip/Esp at the start of the init program.
type TrapFrame struct {
	Eax    uint32
	Eip    uint32
	Esp    uint32
	Eflags uint32
	CS     uint16
	DS     uint16
	ES     uint16
	SS     uint16
}

// strideInfo is a process's stride-scheduling bookkeeping, ported
// directly from proc.h's struct stride_info.
type strideInfo struct {
	stride    int
	tickets   int
	passValue int64
}

// Proc is a kernel process. Its queue_elem linkage is the hand-rolled
// next/prev fields below (not container/list), mirroring proc.h's
// intrusive struct list_head exactly.
type Proc struct {
	Size   int      // Sz: process memory size in bytes
	Space  vm.Space // Pgdir stand-in
	KStack pmm.Frame
	TF     *TrapFrame // points into the top of KStack
	State  State
	Pid    int
	Parent *Proc

	WaitChan any // Chan: non-nil while Sleeping
	Killed   bool

	Files [NOFILE]fsabi.File // Ofile
	Cwd   fsabi.Dir

	name [nameLen]byte

	stride strideInfo

	next, prev *Proc // queue_elem

	table   *ProcTable
	started bool
	schedCh chan struct{} // CPU -> process: "you're dispatched"
	yieldCh chan struct{} // process -> CPU: "I've stopped running"
	body    func(p *Proc)

	// heapSlot holds the capacity-accounting bytes drawn from an
	// optional kheap.Allocator at allocation time (see ProcTable.Heap).
	heapSlot []byte
}

// Name returns the process's debug name.
func (p *Proc) Name() string {
	n := 0
	for n < nameLen && p.name[n] != 0 {
		n++
	}
	return string(p.name[:n])
}

// SetName truncates name into the fixed debug-name buffer, matching
// safestrcpy(p->name, name, sizeof(p->name)).
func (p *Proc) SetName(name string) {
	var buf [nameLen]byte
	copy(buf[:nameLen-1], name)
	p.name = buf
}

// SetBody assigns the function a dispatched process goroutine executes;
// the real kernel's equivalent is pointing a fresh context at
// forkret/trapret. It is only safe on a process no CPU can dispatch yet:
// in practice the init process, between Userinit and Kernel.Run.
// Forked children bind their body through Fork instead.
func (p *Proc) SetBody(fn func(p *Proc)) {
	p.body = fn
}

// run is the goroutine body backing a dispatched process. The CPU that
// first dispatches p still holds the table lock; releasing it here is
// forkret's release(&ptable.lock) on the way out to user code. run
// executes the configured body once; a well-behaved body ends by
// calling (*ProcTable).Exit, which never returns to its caller.
func (p *Proc) run() {
	p.table.mu.Unlock()
	if p.body != nil {
		p.body(p)
	}
}
