// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command stridedemo boots a small in-process kernel, forks a handful
// of processes with different stride tickets, lets them run a CPU-bound
// counter to a common target, and prints a procdump-style summary: a
// runnable illustration of the stride scheduler's fairness.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"stridekernel/fsabi"
	"stridekernel/internal/klog"
	"stridekernel/kheap"
	"stridekernel/pmm"
	"stridekernel/proc"
	"stridekernel/vm"
)

// waitResult is one reply to a waitRequest serviced by initProc's own
// dispatched body in run() below.
type waitResult struct {
	pid int
	err error
}

// waitRequest asks initProc's dispatched body to perform exactly one
// table.Wait(initProc) call on the caller's behalf and report the
// outcome on resp.
type waitRequest struct {
	resp chan waitResult
}

// waitOn sends a waitRequest to initProc's own dispatched body and
// returns its table.Wait(initProc) outcome.
func waitOn(reqs chan<- waitRequest) (int, error) {
	resp := make(chan waitResult)
	reqs <- waitRequest{resp: resp}
	r := <-resp
	return r.pid, r.err
}

func main() {
	nChildren := flag.Int("children", 3, "number of child processes to fork")
	nCPUs := flag.Int("cpus", 2, "number of simulated CPUs")
	frames := flag.Int("frames", 64, "number of 4 KiB physical frames to reserve")
	counterTarget := flag.Int("target", 2_000_000, "per-process counter target")
	trace := flag.Bool("trace", false, "enable structured debug logging")
	flag.Parse()

	klog.SetTrace(*trace)

	if err := run(*nChildren, *nCPUs, *frames, *counterTarget); err != nil {
		fmt.Fprintln(os.Stderr, "stridedemo:", err)
		os.Exit(1)
	}
}

func run(nChildren, nCPUs, frames, counterTarget int) error {
	arena, err := pmm.NewArena(frames)
	if err != nil {
		return fmt.Errorf("reserving physical memory: %w", err)
	}
	defer arena.Close()
	// Two-phase bring-up: seed the early region single-threaded, then
	// the rest of physical memory with the allocator lock enabled, as
	// kinit1/kinit2 do before the other CPUs start.
	arena.Init1(arena.KernelEnd(), arena.EarlyTop())
	arena.Init2(arena.EarlyTop(), arena.PhysTop())

	table := proc.NewProcTable(fsabi.NewSimulated("/"), arena, func() vm.Space {
		return vm.NewSimulated(1 << 24)
	})
	// Process slots charge the fixed-capacity object heap, which draws
	// its backing frames from the page allocator on first use.
	table.Heap = &kheap.Allocator{Frames: arena}

	initProc, err := table.Userinit(4096)
	if err != nil {
		return fmt.Errorf("userinit: %w", err)
	}

	// table.Wait(initProc) parks the caller on initProc's own
	// yieldCh/schedCh pair, which only initProc's own dispatched
	// goroutine may touch (the CPU loop's dispatch() expects exactly one
	// sender per receive). So initProc's body, rather than looping on a
	// bare Yield, services waitRequests sent from this function's
	// goroutine: it non-blockingly checks for a pending request, calls
	// table.Wait on the requester's behalf when one arrives, and always
	// yields afterward so the CPU loop's dispatch() keeps cycling.
	waitReqs := make(chan waitRequest)
	initProc.SetBody(func(p *proc.Proc) {
		for {
			select {
			case req := <-waitReqs:
				pid, err := table.Wait(p)
				req.resp <- waitResult{pid: pid, err: err}
			default:
			}
			table.Yield(p)
		}
	})

	kernel := proc.NewKernel(table, nCPUs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = kernel.Run(ctx) }()

	fmt.Printf("stride scheduling demo: %d children across %d CPUs\n", nChildren, nCPUs)

	pids := make(map[int]int, nChildren) // pid -> tickets
	for i := 0; i < nChildren; i++ {
		tickets := 100 * (i + 1)
		start := time.Now()
		child, err := table.Fork(initProc, func(p *proc.Proc) {
			// The stride syscall: the child assigns its own weight.
			if err := p.SetTickets(tickets); err != nil {
				panic(err)
			}
			counter := 0
			for counter < counterTarget {
				counter++
				if counter%10000 == 0 {
					table.Yield(p)
				}
			}
			fmt.Printf("PID %d (tickets %d) finished %d additions in %s\n",
				p.Pid, tickets, counter, time.Since(start))
			table.Exit(p)
		})
		if err != nil {
			return fmt.Errorf("fork %d: %w", i, err)
		}
		pids[child.Pid] = tickets
	}

	for range pids {
		if _, err := waitOn(waitReqs); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
	}

	fmt.Println("final process table:")
	for _, s := range table.Dump() {
		fmt.Printf("  pid=%d state=%s name=%q\n", s.Pid, s.State, s.Name)
	}
	return nil
}
