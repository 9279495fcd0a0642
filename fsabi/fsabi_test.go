// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fsabi

import "testing"

func TestDupPutTracksRefs(t *testing.T) {
	s := NewSimulated("/")
	root := s.Root()

	d := s.Dup(root)
	if d.Name() != "/" {
		t.Fatalf("unexpected name: %s", d.Name())
	}

	s.Put(d)
	s.Put(root)
	// root itself is never reclaimed even at refs==0, since Simulated
	// has nowhere else for a cwd-less process to point.
	if s.root.refs != 0 {
		t.Fatalf("expected refs 0, got %d", s.root.refs)
	}
}

func TestFileDupCloseTracksRefs(t *testing.T) {
	s := NewSimulated("/")
	f := s.Open("console")

	d := f.Dup()
	if d.Name() != "console" {
		t.Fatalf("unexpected name: %s", d.Name())
	}

	d.Close()
	f.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double close")
		}
	}()
	f.Close()
}

func TestBeginOpEndOpNesting(t *testing.T) {
	s := NewSimulated("/")
	s.BeginOp()
	s.BeginOp()
	s.EndOp()
	s.EndOp()
}

func TestEndOpWithoutBeginPanics(t *testing.T) {
	s := NewSimulated("/")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	s.EndOp()
}
