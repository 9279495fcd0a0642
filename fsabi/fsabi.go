// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsabi defines the filesystem collaborator the process
// lifecycle touches at fork/exit/exec boundaries (open-file table
// duplication, cwd reference counting, the begin_op/end_op transaction
// bracket around operations that would dirty the log in a real journaled
// filesystem) without implementing an actual filesystem.
//
// Simulated is the only implementation: a reference-counted in-memory
// directory tree, standing in for xv6's iget/iput/ilock, never presented
// as a real filesystem.
package fsabi

import "sync"

// Dir is a reference-countable directory/inode handle. Root/Dup/Put are
// the only operations the process lifecycle needs: obtain the root,
// duplicate a reference (cwd inheritance on fork), release a reference
// (cwd drop on exit).
type Dir interface {
	Name() string
}

// File is an open-file handle held in a process's open-file table. Dup
// and Close mirror filedup/fileclose: fork duplicates every open entry,
// exit closes them all.
type File interface {
	Name() string
	Dup() File
	Close()
}

// Files is the filesystem collaborator a ProcTable is configured with.
// BeginOp/EndOp bracket filesystem-touching lifecycle operations exactly
// as xv6's begin_op/end_op bracket any write that must survive a crash
// mid-transaction; Simulated's implementation is a no-op counter since
// there is no real log to commit.
type Files interface {
	Root() Dir
	Dup(d Dir) Dir
	Put(d Dir)
	BeginOp()
	EndOp()
}

type simDir struct {
	name string

	mu   sync.Mutex
	refs int
}

func (d *simDir) Name() string { return d.name }

// Simulated is an in-memory Files implementation with a single root
// directory; Dup/Put maintain a reference count purely for debugging
// (Simulated never reclaims a directory, there being only one).
type Simulated struct {
	root *simDir

	mu      sync.Mutex
	opDepth int
}

var _ Files = (*Simulated)(nil)

// NewSimulated returns a Files collaborator with a single root directory
// named name.
func NewSimulated(name string) *Simulated {
	return &Simulated{root: &simDir{name: name, refs: 1}}
}

func (s *Simulated) Root() Dir { return s.root }

type simFile struct {
	name string

	mu   sync.Mutex
	refs int
}

func (f *simFile) Name() string { return f.name }

// Dup increments f's reference count and returns it, mirroring filedup.
func (f *simFile) Dup() File {
	f.mu.Lock()
	if f.refs < 1 {
		f.mu.Unlock()
		panic("fsabi: Dup of a closed file")
	}
	f.refs++
	f.mu.Unlock()
	return f
}

// Close drops one reference, mirroring fileclose. Closing an already
// fully closed file panics the same way fileclose's ref check does.
func (f *simFile) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs < 1 {
		panic("fsabi: Close of a closed file")
	}
	f.refs--
}

// Open returns a fresh open-file handle with one reference. Simulated
// has no real backing objects, so any name succeeds.
func (s *Simulated) Open(name string) File {
	return &simFile{name: name, refs: 1}
}

// Dup increments d's reference count and returns it, mirroring idup.
func (s *Simulated) Dup(d Dir) Dir {
	sd, ok := d.(*simDir)
	if !ok {
		panic("fsabi: Dup of a Dir not owned by this Simulated")
	}
	sd.mu.Lock()
	sd.refs++
	sd.mu.Unlock()
	return sd
}

// Put decrements d's reference count, mirroring iput. Simulated never
// frees the root even at refs==0: there is nowhere else for a process
// with no cwd to point.
func (s *Simulated) Put(d Dir) {
	sd, ok := d.(*simDir)
	if !ok {
		panic("fsabi: Put of a Dir not owned by this Simulated")
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.refs > 0 {
		sd.refs--
	}
}

// BeginOp and EndOp bracket a filesystem-touching operation. Simulated
// tracks nesting depth only, as a sanity check that every BeginOp is
// matched by an EndOp.
func (s *Simulated) BeginOp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opDepth++
}

func (s *Simulated) EndOp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opDepth == 0 {
		panic("fsabi: EndOp without matching BeginOp")
	}
	s.opDepth--
}
