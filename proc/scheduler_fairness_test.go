// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStrideFairnessIsTicketProportional exercises the selection/update
// algorithm (removeMin/updatePassValue/insert/updateMinPassValue)
// directly, without the concurrent goroutine dispatch machinery, so the
// result is deterministic: enqueue N processes with tickets 100*(i+1),
// run a large fixed number of scheduling rounds, and confirm each
// process's share of rounds won is proportional to its ticket count;
// higher-ticket processes finish a fixed amount of work sooner.
func TestStrideFairnessIsTicketProportional(t *testing.T) {
	table := newTestTableWithFrames(t, 64)

	const n = 3
	procs := make([]*Proc, n)
	for i := 0; i < n; i++ {
		p := &Proc{State: Runnable, Pid: i + 1}
		initializeStrideInfo(p)
		require.NoError(t, p.SetTickets(100 * (i + 1)))
		initList(p)
		listAddTail(table.head, p)
		procs[i] = p
	}

	wins := make([]int, n)
	const rounds = 60000
	for r := 0; r < rounds; r++ {
		p := table.removeMin()
		require.NotNil(t, p)
		for i, cand := range procs {
			if cand == p {
				wins[i]++
			}
		}
		updatePassValue(p)
		table.insert(p)
		table.updateMinPassValue()
	}

	// Each process's win share should track its ticket share within a
	// generous tolerance; stride scheduling is only proportionally
	// fair over a long enough window, not on any single round.
	total := 0
	for _, w := range wins {
		total += w
	}
	for i, p := range procs {
		wantShare := float64(p.Tickets()) / float64(600)
		gotShare := float64(wins[i]) / float64(total)
		require.InDelta(t, wantShare, gotShare, 0.02,
			"proc %d: tickets=%d wins=%d share=%.4f want=%.4f", p.Pid, p.Tickets(), wins[i], gotShare, wantShare)
	}
}

// TestStridetestScenario runs the classic stridetest workload end to
// end through the real goroutine-dispatch scheduler: fork N children
// with tickets 100*(i+1), each counts to a small target and exits; the
// parent waits for all of them and then confirms a further Wait reports
// no children remain.
func TestStridetestScenario(t *testing.T) {
	table := newTestTableWithFrames(t, 64)
	initProc, reqs, cancel := bootKernel(t, table, 4)
	defer cancel()

	const n = 3
	const target = 2000
	pids := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		tickets := 100 * (i + 1)
		child, err := table.Fork(initProc, func(p *Proc) {
			if err := p.SetTickets(tickets); err != nil {
				panic(err)
			}
			counter := 0
			for counter < target {
				counter++
				if counter%50 == 0 {
					table.Yield(p)
				}
			}
			table.Exit(p)
		})
		require.NoError(t, err)
		pids[child.Pid] = true
	}

	for i := 0; i < n; i++ {
		pid, err := waitOn(reqs)
		require.NoError(t, err)
		require.True(t, pids[pid], "unexpected pid %d reaped", pid)
		delete(pids, pid)
	}
	require.Empty(t, pids)

	_, err := waitOn(reqs)
	require.ErrorIs(t, err, ErrNoChildren)
}
