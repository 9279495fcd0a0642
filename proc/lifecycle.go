// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"runtime"
	"sync"

	"stridekernel/internal/klog"
)

// Exit closes cur's open files, transitions it to ZOMBIE, wakes its
// parent (which might be sleeping in Wait), and reparents any of cur's
// children to the table's init process, exactly as exit() does. Exit
// never returns to its caller: it hands control back to the dispatching
// CPU and terminates the process's goroutine, since a ZOMBIE process is
// never RUNNABLE and so never redispatched. Calling Exit on the table's
// init process panics, just as exit() does ("init exiting").
func (t *ProcTable) Exit(cur *Proc) {
	if cur == t.initProc {
		panic("proc: init exiting")
	}

	for fd, f := range cur.Files {
		if f != nil {
			f.Close()
			cur.Files[fd] = nil
		}
	}

	t.Files.BeginOp()
	t.Files.Put(cur.Cwd)
	t.Files.EndOp()
	cur.Cwd = nil

	t.mu.Lock()
	t.wakeup1(cur.Parent)

	listForEach(t.head, func(p *Proc) {
		if p.Parent == cur {
			p.Parent = t.initProc
			if p.State == Zombie {
				t.wakeup1(t.initProc)
			}
		}
	})

	cur.State = Zombie
	klog.L().Debugw("proc.exit", "pid", cur.Pid)

	// The final handoff: t.mu stays held and passes to the dispatching
	// CPU, which reinserts the zombie (where Wait finds it) before
	// unlocking. A zombie is never redispatched, so end the goroutine
	// rather than wait on schedCh.
	cur.yieldCh <- struct{}{}
	runtime.Goexit()
}

// Wait blocks until a child of cur exits, reaps it (releasing its kernel
// stack, address space, and heap accounting), and returns its pid.
// Returns ErrNoChildren if cur has no children, or if cur has been
// killed while it would otherwise have to wait. Matches wait().
func (t *ProcTable) Wait(cur *Proc) (int, error) {
	t.mu.Lock()
	for {
		haveKids := false
		var zombie *Proc
		listForEach(t.head, func(p *Proc) {
			if p.Parent != cur {
				return
			}
			haveKids = true
			if zombie == nil && p.State == Zombie {
				zombie = p
			}
		})

		if zombie != nil {
			pid := zombie.Pid
			listDelInit(zombie)
			zombie.Pid = 0
			zombie.Parent = nil
			zombie.TF = nil
			zombie.name = [nameLen]byte{}
			zombie.Killed = false
			zombie.State = Unused
			t.mu.Unlock()

			t.releaseProc(zombie)
			klog.L().Debugw("proc.wait", "reaped", pid)
			return pid, nil
		}

		if !haveKids || cur.Killed {
			t.mu.Unlock()
			return -1, ErrNoChildren
		}

		// lk == &ptable.lock here: t.mu is already held from the scan
		// above, and sleepLocked commits cur to SLEEPING without ever
		// releasing it, so a concurrent Exit's wakeup1(cur.Parent)
		// cannot run between "have kids, none zombie yet" and the
		// commit.
		t.sleepLocked(cur, cur)
	}
}

// sched hands control from cur back to its dispatching CPU and blocks
// until cur is next dispatched. Caller must hold t.mu and must have
// already moved cur out of the RUNNING state; both travel with the
// handoff the way ptable.lock travels across swtch(): the CPU resumes
// its loop owning t.mu, and when cur is later redispatched, cur's
// goroutine owns t.mu again on return. Because the lock is never free
// between the caller's state commit and the CPU's reinsert, a process
// that commits to SLEEPING here is back in the run queue before any
// Wakeup can scan the table. Panics on the invariant sched() enforces
// in the source ("sched running").
func (t *ProcTable) sched(cur *Proc) {
	if cur.State == Running {
		panic("proc: SchedulerInvariantViolation: sched on a RUNNING process")
	}
	cur.yieldCh <- struct{}{}
	<-cur.schedCh
}

// Sleep puts cur to sleep on chanKey, releasing guard (if non-nil) for
// the duration, and blocks until a matching Wakeup/Kill call makes cur
// RUNNABLE again and the scheduler redispatches it. Reacquires guard
// before returning. The lock discipline is sleep()'s: t.mu is acquired
// before guard is released, so a waker that posts its condition and
// calls Wakeup while holding guard cannot slip between the caller's
// condition check and the commit to SLEEPING; and t.mu then stays held
// from the commit, across the handoff, until the CPU has reinserted cur
// in the run queue, so a committed sleeper is always visible to
// wakeup1's scan.
func (t *ProcTable) Sleep(cur *Proc, chanKey any, guard sync.Locker) {
	t.mu.Lock()
	if guard != nil {
		guard.Unlock()
	}
	cur.WaitChan = chanKey
	cur.State = Sleeping
	t.sched(cur)
	cur.WaitChan = nil
	t.mu.Unlock()

	if guard != nil {
		guard.Lock()
	}
}

// sleepLocked is sleep()'s lk == &ptable.lock case: the caller already
// holds t.mu, having just evaluated its wakeup condition under it, and
// commits cur to SLEEPING without the lock ever being released in
// between. On return the caller owns t.mu again, handed back by the
// redispatching CPU.
func (t *ProcTable) sleepLocked(cur *Proc, chanKey any) {
	cur.WaitChan = chanKey
	cur.State = Sleeping
	t.sched(cur)
	cur.WaitChan = nil
}

// wakeup1 wakes every process sleeping on chanKey, assigning it the
// table's current minimum pass value so it rejoins the run queue fairly.
// Caller must hold t.mu. Ported from wakeup1.
func (t *ProcTable) wakeup1(chanKey any) {
	listForEach(t.head, func(p *Proc) {
		if p.State == Sleeping && p.WaitChan == chanKey {
			p.State = Runnable
			t.assignMinPassValue(p)
		}
	})
}

// Wakeup wakes every process sleeping on chanKey. Matches wakeup().
func (t *ProcTable) Wakeup(chanKey any) {
	t.mu.Lock()
	t.wakeup1(chanKey)
	t.mu.Unlock()
}

// Kill marks the process with pid as killed and makes it RUNNABLE if it
// was SLEEPING, so it notices Killed the next time it checks (Wait does,
// after waking). Deliberately does NOT call assignMinPassValue: the
// source's kill() only flips state, leaving pass-value reassignment to
// wakeup1 alone; this asymmetry is intentional and preserved exactly
// (see SPEC_FULL.md). Returns ErrNoSuchProcess if pid is not found, and
// reports nil otherwise (kill()'s "return 0" contract). Matches kill().
func (t *ProcTable) Kill(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var target *Proc
	listForEach(t.head, func(p *Proc) {
		if target == nil && p.Pid == pid {
			target = p
		}
	})
	if target == nil {
		return ErrNoSuchProcess
	}
	target.Killed = true
	if target.State == Sleeping {
		target.State = Runnable
	}
	klog.L().Debugw("proc.kill", "pid", pid)
	return nil
}

// Yield voluntarily gives up the CPU for one scheduling round: cur
// becomes RUNNABLE again and control returns to the dispatching CPU.
// Matches yield(): acquire, mark RUNNABLE, sched, release.
func (t *ProcTable) Yield(cur *Proc) {
	t.mu.Lock()
	cur.State = Runnable
	t.sched(cur)
	t.mu.Unlock()
}
