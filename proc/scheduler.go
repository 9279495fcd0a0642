// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"stridekernel/internal/klog"
)

// CPU runs one per-CPU scheduler loop: repeatedly pick the RUNNABLE
// process with the lowest pass value, dispatch it, block until it
// yields control back, update its pass value, requeue it, and recompute
// the table-wide minimum pass value. Matches scheduler().
type CPU struct {
	ID    int
	table *ProcTable
}

// dispatch hands control to p's goroutine (starting it on first
// dispatch) and blocks until p signals back on its yieldCh, exactly at
// the points sched() is called in the source (yield, sleep, exit); a
// first dispatch only starts the goroutine, whose run releases t.mu as
// forkret does and sends nothing on yieldCh. Caller must hold t.mu with
// p.State already set to Running; ownership of t.mu travels with the
// handoff the way ptable.lock travels across swtch: the dispatched
// goroutine releases it (forkret, or the tail of the lifecycle call it
// resumes in), reacquires it before handing control back, and this CPU
// resumes its loop owning it again. Panics with a
// SchedulerInvariantViolation message if p is still RUNNING once it has
// handed control back, mirroring sched()'s "sched running" panic; the
// lock-holding check behind sched()'s "sched locks" panic is not made.
func (c *CPU) dispatch(p *Proc) {
	if !p.started {
		p.started = true
		go p.run()
	} else {
		p.schedCh <- struct{}{}
	}

	<-p.yieldCh

	if p.State == Running {
		panic("proc: SchedulerInvariantViolation: process returned control while still RUNNING")
	}
}

// Run executes c's scheduling loop until ctx is cancelled. Matches
// scheduler()'s for(;;) body, including its locking: t.mu is held from
// removeMin through the dispatched process's handoff back to this CPU
// through the reinsert, so between a process committing to SLEEPING and
// its reappearance in the run queue no Wakeup can scan the table; a
// committed sleeper is never invisible to wakeup1. The busy-poll in the
// no-runnable-process branch stands in for sti()'s wait-for-interrupt,
// yielding the underlying OS thread via runtime.Gosched so idle CPUs
// don't starve others.
func (c *CPU) Run(ctx context.Context) error {
	t := c.table
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.mu.Lock()
		p := t.removeMin()
		if p == nil {
			t.mu.Unlock()
			runtime.Gosched()
			continue
		}
		p.State = Running

		c.dispatch(p)

		updatePassValue(p)
		t.insert(p)
		t.updateMinPassValue()
		t.mu.Unlock()
	}
}

// Kernel owns a process table and the CPUs dispatching against it.
type Kernel struct {
	Table *ProcTable
	cpus  []*CPU
}

// NewKernel constructs a Kernel with n CPUs wired to table.
func NewKernel(table *ProcTable, n int) *Kernel {
	k := &Kernel{Table: table}
	for i := 0; i < n; i++ {
		k.cpus = append(k.cpus, &CPU{ID: i, table: table})
	}
	return k
}

// Run starts every CPU's scheduler loop and blocks until ctx is
// cancelled or any loop returns a non-context error, matching each CPU
// independently calling scheduler() after boot.
func (k *Kernel) Run(ctx context.Context) error {
	klog.L().Infow("proc.kernel.run", "cpus", len(k.cpus))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range k.cpus {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}
