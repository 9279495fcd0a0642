// Copyright 2026 The Stridekernel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proc

// The run queue is a circular doubly linked list rooted at a sentinel
// Proc (ProcTable.head), exactly as proc.h's struct list_head forms a
// ring via INIT_LIST_HEAD/list_add_tail/list_del_init. The sentinel is
// never itself RUNNABLE and never returned by listForEach.

func initList(head *Proc) {
	head.next = head
	head.prev = head
}

// listAddTail appends p at the tail of the ring rooted at head
// (list_add_tail).
func listAddTail(head, p *Proc) {
	p.prev = head.prev
	p.next = head
	head.prev.next = p
	head.prev = p
}

// listDelInit unlinks p from its ring and resets it to a self-pointing
// empty ring (list_del_init).
func listDelInit(p *Proc) {
	p.prev.next = p.next
	p.next.prev = p.prev
	p.next = p
	p.prev = p
}

// listForEach visits every node in the ring rooted at head, excluding
// head itself (list_for_each/list_for_each_safe combined: the next
// pointer is captured before fn runs, so fn may unlink the node it was
// just called with).
func listForEach(head *Proc, fn func(*Proc)) {
	n := head.next
	for n != head {
		next := n.next
		fn(n)
		n = next
	}
}
