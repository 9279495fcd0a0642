// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import "fmt"

// LARGE is the constant numerator stride is computed from, matching
// proc.h's STRIDE_LARGE_NUMBER.
const LARGE = 10000

// initializeStrideInfo sets a freshly allocated process's stride
// bookkeeping: 100 tickets, pass value 0, stride = LARGE/100. Ported
// from initialize_stride_info; called from allocProc.
func initializeStrideInfo(p *Proc) {
	p.stride.tickets = 100
	p.stride.passValue = 0
	p.stride.stride = LARGE / 100
}

// SetTickets assigns tickets to p and recomputes its stride, matching
// assign_tickets. Like the source, it takes no lock: it is only safe
// called by p on itself while RUNNING (the stride syscall), or on a
// process no CPU can see yet. n must be >= 1: the source divides LARGE
// by tickets with no validation, so tickets == 0 would be a division by
// zero in C; this port rejects it with an error instead of silently
// corrupting the process.
func (p *Proc) SetTickets(n int) error {
	if n < 1 {
		return fmt.Errorf("proc: tickets must be >= 1, got %d", n)
	}
	p.stride.tickets = n
	p.stride.stride = LARGE / n
	return nil
}

// Tickets reports p's current ticket count, for tests and Dump.
func (p *Proc) Tickets() int { return p.stride.tickets }

// PassValue reports p's current pass value, for tests and Dump.
func (p *Proc) PassValue() int64 { return p.stride.passValue }

// removeMin scans the run queue for the RUNNABLE process with the lowest
// pass value, unlinks and returns it, or returns nil if none are
// runnable. Caller must hold t.mu. Ported from remove_min.
func (t *ProcTable) removeMin() *Proc {
	var min *Proc
	listForEach(t.head, func(p *Proc) {
		if p.State != Runnable {
			return
		}
		if min == nil || min.stride.passValue > p.stride.passValue {
			min = p
		}
	})
	if min == nil {
		return nil
	}
	listDelInit(min)
	return min
}

// updatePassValue advances p's pass value by its stride after a
// scheduling quantum. Ported from update_pass_value.
func updatePassValue(p *Proc) {
	p.stride.passValue += int64(p.stride.stride)
}

// updateMinPassValue recomputes the table-wide minimum pass value across
// all RUNNABLE processes, flooring to 0 when none are runnable (mirrors
// the source's isFirst/minPassValue==0 starting state exactly, an
// intentional "fair rejoin" floor, documented in DESIGN.md rather than
// changed). Caller must hold t.mu. Ported from update_min_pass_value.
func (t *ProcTable) updateMinPassValue() {
	var min int64
	first := true
	listForEach(t.head, func(p *Proc) {
		if p.State != Runnable {
			return
		}
		if first || min > p.stride.passValue {
			min = p.stride.passValue
			first = false
		}
	})
	t.minPassValue = min
}

// insert requeues current at the tail of the run queue after a
// scheduling quantum. Ported from insert.
func (t *ProcTable) insert(current *Proc) {
	initList(current)
	listAddTail(t.head, current)
}

// assignMinPassValue assigns the table-wide minimum pass value to p, so
// a newly forked or just-woken process joins the run queue without
// having to pay back pass value accrued while it did not exist or was
// asleep. Caller must hold t.mu. Ported from assign_min_pass_value.
func (t *ProcTable) assignMinPassValue(p *Proc) {
	p.stride.passValue = t.minPassValue
}
