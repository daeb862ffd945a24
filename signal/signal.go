// Package signal implements the per-thread signal delivery bookkeeping
// from spec.md §4.6: a pending-signal FIFO per thread and the registered
// handler a thread installed for each signal number. Grounded on
// source/kernel/src/task/signals.cc — the pending-signal free list
// guarded by the same lock as the handler table, and the two-phase
// CheckAndStart/AckHandling delivery protocol that keeps a thread from
// re-entering its own handler before the first invocation finishes.
package signal

import (
	"sync"

	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/waitq"
)

// Handler is the userland callback a thread installs for a signal
// number, the Go stand-in for signals.cc's function-pointer handler
// table entry.
type Handler func(sig int)

type pending struct {
	num  int
	next int32
}

const noEntry = -1

// Table is the signal subsystem's whole state: one handler set and one
// pending-signal FIFO per thread, backed by a shared free-list arena for
// the FIFO nodes exactly as signals.cc shares one pool across threads.
type Table struct {
	mu sync.Mutex

	handlers map[waitq.ThreadID]map[int]Handler
	handling map[waitq.ThreadID]int // signal currently being run, 0 = none

	entries  []pending
	freeHead int32

	head map[waitq.ThreadID]int32 // FIFO head per thread
	tail map[waitq.ThreadID]int32 // FIFO tail per thread
}

// New constructs an empty signal table.
func New() *Table {
	return &Table{
		handlers: make(map[waitq.ThreadID]map[int]Handler),
		handling: make(map[waitq.ThreadID]int),
		head:     make(map[waitq.ThreadID]int32),
		tail:     make(map[waitq.ThreadID]int32),
		freeHead: noEntry,
	}
}

// Register installs handler for sig on tid, replacing any previous
// handler for that (tid, sig) pair. A nil handler reverts to the
// default "ignore" behavior CheckAndStart applies to signals nobody
// has registered for.
func (t *Table) Register(tid waitq.ThreadID, sig int, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.handlers[tid]
	if !ok {
		set = make(map[int]Handler)
		t.handlers[tid] = set
	}
	if handler == nil {
		delete(set, sig)
		return
	}
	set[sig] = handler
}

// Add appends sig to tid's pending FIFO, per signals.cc's raise(): a
// signal delivered while the target has no registered handler is still
// recorded and is silently dropped by CheckAndStart when its turn comes,
// never discarded at raise time (a handler installed in between must
// still see it).
func (t *Table) Add(tid waitq.ThreadID, sig int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.alloc()
	t.entries[idx] = pending{num: sig, next: noEntry}

	if tail, ok := t.tail[tid]; ok {
		t.entries[tail].next = idx
	} else {
		t.head[tid] = idx
	}
	t.tail[tid] = idx
}

func (t *Table) alloc() int32 {
	if t.freeHead != noEntry {
		idx := t.freeHead
		t.freeHead = t.entries[idx].next
		return idx
	}
	t.entries = append(t.entries, pending{})
	return int32(len(t.entries) - 1)
}

func (t *Table) free(idx int32) {
	t.entries[idx] = pending{next: t.freeHead}
	t.freeHead = idx
}

// CheckAndStart pops tid's oldest pending signal that has a registered
// handler, skipping and discarding any unhandled signals ahead of it in
// the FIFO, and marks tid as currently running that handler. Returns
// ok=false if no handled signal is pending. Fails with vfserr.Busy if
// tid is already running a handler (signals.cc never nests handler
// invocations on one thread; the second must wait for AckHandling).
func (t *Table) CheckAndStart(tid waitq.ThreadID) (sig int, handler Handler, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.handling[tid]; ok && cur != 0 {
		return 0, nil, vfserr.Busy.WithOp("signal.CheckAndStart")
	}

	set := t.handlers[tid]
	idx, ok := t.head[tid]
	for ok {
		entry := t.entries[idx]
		next := entry.next
		t.removeFrontLocked(tid, idx, next)

		if h, handled := set[entry.num]; handled {
			t.handling[tid] = entry.num
			return entry.num, h, nil
		}
		// No handler registered (e.g. it was unregistered after Add): drop
		// and keep scanning, mirroring signals.cc's default-ignore action.
		idx, ok = t.head[tid]
	}
	return 0, nil, nil
}

// removeFrontLocked detaches the FIFO head idx, whose next pointer was
// already read as next, and frees its slot. Caller holds t.mu.
func (t *Table) removeFrontLocked(tid waitq.ThreadID, idx, next int32) {
	if next == noEntry {
		delete(t.head, tid)
		delete(t.tail, tid)
	} else {
		t.head[tid] = next
	}
	t.free(idx)
}

// AckHandling clears tid's in-progress handler marker, allowing the
// next CheckAndStart to proceed. Safe to call even if tid is not
// currently handling anything.
func (t *Table) AckHandling(tid waitq.ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handling, tid)
}

// Pending reports whether tid has any signal queued, handled or not, so
// a syscall return path can decide whether to call CheckAndStart at all.
func (t *Table) Pending(tid waitq.ThreadID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.head[tid]
	return ok
}

// Forget drops every pending signal and the handler set for tid, for
// use when a thread exits.
func (t *Table) Forget(tid waitq.ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.head[tid]
	for ok {
		next := t.entries[idx].next
		t.free(idx)
		idx, ok = next, next != noEntry
	}
	delete(t.head, tid)
	delete(t.tail, tid)
	delete(t.handlers, tid)
	delete(t.handling, tid)
}
