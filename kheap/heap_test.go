// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kheap

import (
	"errors"
	"testing"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"

	"stridekernel/pmm"
)

func newTestHeap(t *testing.T) (*Allocator, *pmm.Allocator) {
	t.Helper()
	// payloadFrames+anchorFrames = 9 frames drawn on first morecore, so
	// give the backing arena comfortable headroom over that.
	fa, err := pmm.NewArena(32)
	require.NoError(t, err)
	t.Cleanup(func() { fa.Close() })
	fa.Init1(fa.KernelEnd(), fa.EarlyTop())
	fa.Init2(fa.EarlyTop(), fa.PhysTop())

	h := &Allocator{Frames: fa}
	return h, fa
}

func TestMallocFreeRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t)

	b, err := h.Malloc(64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b), 64)
	for i := range b {
		b[i] = byte(i)
	}

	h.Free(b)

	// The heap should still satisfy a same-size request after the round
	// trip, i.e. the freed chunk was correctly reclaimed.
	b2, err := h.Malloc(64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b2), 64)
}

// TestMallocZeroBytes exercises the nbytes==0 boundary: k_malloc always
// rounds up to at least nunits=2 (one header's worth of payload), so a
// zero-size request still returns a valid, freeable chunk rather than a
// pointer into the anchor.
func TestMallocZeroBytes(t *testing.T) {
	h, _ := newTestHeap(t)

	b, err := h.Malloc(0)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Empty(t, b)
	require.Greater(t, cap(b), 0)

	h.Free(b)
}

// TestHeapExhaustion: repeated Malloc calls against the fixed heap (8
// payload frames plus one anchor frame) must eventually surface
// ErrOutOfHeap, total bytes handed out
// never exceeding the payload frames' capacity, and a subsequent Free
// must make room for further allocation.
func TestHeapExhaustion(t *testing.T) {
	h, _ := newTestHeap(t)

	const chunk = 1024
	var got [][]byte
	for {
		b, err := h.Malloc(chunk)
		if err != nil {
			require.True(t, errors.Is(err, ErrOutOfHeap), "unexpected error: %v", err)
			break
		}
		got = append(got, b)
	}
	require.NotEmpty(t, got)
	require.LessOrEqual(t, len(got)*chunk, Capacity())

	h.Free(got[0])
	got = got[1:]

	b, err := h.Malloc(chunk)
	require.NoError(t, err)
	require.NotNil(t, b)
}

// TestFuzzMallocFree mirrors pmm's fuzz test: a seeded PRNG drives a
// long alloc/free sequence, with every live chunk written and
// re-verified to catch any header corruption from a coalescing bug.
func TestFuzzMallocFree(t *testing.T) {
	h, _ := newTestHeap(t)

	rng, err := mathutil.NewFC32(1, 256, true)
	require.NoError(t, err)
	rng.Seed(11)

	type live struct {
		b    []byte
		want byte
	}
	var held []live

	for i := 0; i < 5000; i++ {
		if len(held) == 0 || rng.Next()%2 == 0 {
			size := int(rng.Next())
			b, err := h.Malloc(size)
			if err != nil {
				continue
			}
			tag := byte(i)
			for j := range b {
				b[j] = tag
			}
			held = append(held, live{b: b, want: tag})
			continue
		}
		idx := int(rng.Next()) % len(held)
		h.Free(held[idx].b)
		held[idx] = held[len(held)-1]
		held = held[:len(held)-1]
	}

	for _, l := range held {
		for _, v := range l.b {
			require.Equal(t, l.want, v)
		}
		h.Free(l.b)
	}

	// Capacity should still report the fixed 8-frame payload
	// regardless of however many morecore expansions (always exactly
	// one) took place during the fuzz run.
	require.Equal(t, 8*pmm.PageSize, Capacity())
}

func TestMallocNegativeSizePanics(t *testing.T) {
	h, _ := newTestHeap(t)
	defer func() {
		require.NotNil(t, recover())
	}()
	_, _ = h.Malloc(-1)
}

func TestCapacityMatchesEightFrames(t *testing.T) {
	require.Equal(t, 8*pmm.PageSize, Capacity())
}
