// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package klog is the kernel's single logging seam: a process-wide
// trace toggle, in the spirit of the package-level `trace bool` debug
// switch allocators like github.com/cznic/memory carry, generalized to
// a structured logger. The toggle swaps a no-op logger for a
// development *zap.Logger, so every allocator and lifecycle call site
// can log without paying for it when tracing is off.
package klog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// SetTrace is the trace switch: on enables structured debug logging for
// every allocator and scheduler operation, off restores the no-op
// logger.
func SetTrace(on bool) {
	mu.Lock()
	defer mu.Unlock()
	if !on {
		logger = zap.NewNop().Sugar()
		return
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewExample()
	}
	logger = l.Sugar()
}

// SetLogger installs a caller-supplied logger (e.g. a production zap
// config wired to the host process). Passing nil restores the no-op
// logger.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l
}

// L returns the current logger. Safe for concurrent use.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
