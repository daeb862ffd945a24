// Package waitq implements the wait table: the (event-kind, object) to
// blocked-thread map described in spec.md §4.1. It is grounded directly
// on source/kernel/src/task/event.cc — the same fixed pool of wait
// entries, the same FIFO per-event doubly linked lists, and the same
// wakeup-scans-the-whole-list-and-dedupes-by-thread behavior, translated
// from Event::wait/wakeup/wakeupThread/doRemoveThread's pointer
// arithmetic into slice-index bookkeeping.
//
// Actual suspension is delegated to a Scheduler, the external collaborator
// spec.md §1 names ("a scheduler offering block/unblock/switch-away").
// The table only owns the bookkeeping of who is waiting on what; it
// tells the scheduler when to block and unblock a thread.
package waitq

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kyrios-os/vfscore/vfserr"
)

// EventKind is one of the closed enumeration of blocking reasons from
// spec.md §4.1. There are no dynamic event types.
type EventKind int

const (
	ClientArrived EventKind = iota
	MessageReceived
	DataReadable
	Mutex
	PipeFull
	PipeEmpty
	RequestFree
	Swap
	VMMDone
	ThreadDied
	ChildDied
	Termination
	User1
	User2

	numEventKinds
)

func (k EventKind) String() string {
	names := [...]string{
		"client-arrived", "message-received", "data-readable", "mutex",
		"pipe-full", "pipe-empty", "request-free", "swap", "vmm-done",
		"thread-died", "child-died", "termination", "user1", "user2",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown-event"
	}
	return names[k]
}

// EventMask is a bitmask over EventKind, used by WakeupThread.
type EventMask uint32

func (k EventKind) Mask() EventMask { return 1 << EventMask(k) }

// ThreadID identifies a waiting thread. The zero value is never a valid
// thread.
type ThreadID uint64

// Object is the opaque, comparable handle a wait is registered against
// (typically a vfsnode.ID or a device/channel handle cast to uint64).
// Object(0) is the wildcard: a wait registered against it is matched by
// any Wakeup on that event kind, regardless of object.
type Object uint64

// Key is a single (event-kind, object) pair to wait on or wake.
type Key struct {
	Kind   EventKind
	Object Object
}

const noEntry = -1

type entry struct {
	inUse  bool
	tid    ThreadID
	kind   EventKind
	object Object

	// Doubly linked within evlists[kind], FIFO (new entries appended at
	// tail), mirroring Event::WaitList.
	prev, next int32

	// Singly linked within this thread's own chain of entries across all
	// events it is waiting on, mirroring Wait::tnext.
	tnext int32
}

type eventList struct {
	head, tail int32
}

// Scheduler is the external collaborator responsible for actually
// suspending and resuming a thread. Table.Wait calls Block once
// bookkeeping is in place; Wakeup/WakeupThread call Unblock once
// bookkeeping has been torn down. This is the Go-native stand-in for
// spec.md §1's "scheduler offering block/unblock/switch-away" — it owns
// no wait-table state itself.
type Scheduler interface {
	// Block suspends the calling goroutine's logical thread until Unblock
	// is called for the same tid or ctx is done. Returns true if woken by
	// Unblock, false if ctx ended first.
	Block(ctx context.Context, tid ThreadID) bool
	// Unblock resumes a thread previously passed to Block. Safe to call
	// even if the thread is not currently blocked (no-op then).
	Unblock(tid ThreadID)
}

// Table is the wait table. Zero value is not usable; construct with New.
type Table struct {
	mu sync.Mutex

	entries   []entry
	freeHead  int32
	freeCount int
	evlists   [numEventKinds]eventList
	threads   map[ThreadID]int32 // head of each thread's tnext chain

	sched Scheduler

	waiters *prometheus.GaugeVec
}

// New creates a wait table with a fixed pool of capacity entries — the
// Go analogue of Event::waits[MAX_WAIT_COUNT]. Wait fails with
// vfserr.NoMemory once the pool is exhausted, exactly as spec.md §4.1
// requires, rather than growing unboundedly.
func New(capacity int, sched Scheduler, reg prometheus.Registerer) *Table {
	t := &Table{
		entries:  make([]entry, capacity),
		freeHead: 0,
		threads:  make(map[ThreadID]int32),
		sched:    sched,
		waiters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vfscore",
			Subsystem: "waitq",
			Name:      "waiters",
			Help:      "Number of registered wait entries by event kind.",
		}, []string{"event"}),
	}
	for i := range t.entries {
		t.entries[i].next = int32(i + 1)
	}
	if capacity > 0 {
		t.entries[capacity-1].next = noEntry
	} else {
		t.freeHead = noEntry
	}
	t.freeCount = capacity
	for i := range t.evlists {
		t.evlists[i] = eventList{head: noEntry, tail: noEntry}
	}
	if reg != nil {
		reg.MustRegister(t.waiters)
	}
	return t
}

// Wait atomically registers one wait entry per key, then blocks the
// calling thread via the scheduler until a matching Wakeup/WakeupThread
// or ctx is done. On failure to allocate entries for every key, no
// partial registration is left behind (spec.md §4.1: "no partial
// registration may leak").
func (t *Table) Wait(ctx context.Context, tid ThreadID, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}

	t.mu.Lock()
	if t.freeCount < len(keys) {
		t.mu.Unlock()
		return vfserr.NoMemory.WithOp("waitq.Wait")
	}

	var chainHead int32 = noEntry
	var chainTail int32 = noEntry
	for _, k := range keys {
		idx := t.allocEntry()
		e := &t.entries[idx]
		e.inUse = true
		e.tid = tid
		e.kind = k.Kind
		e.object = k.Object
		e.tnext = noEntry

		t.pushEvent(k.Kind, idx)
		t.waiters.WithLabelValues(k.Kind.String()).Inc()

		if chainHead == noEntry {
			chainHead = idx
		} else {
			t.entries[chainTail].tnext = idx
		}
		chainTail = idx
	}
	t.threads[tid] = chainHead
	t.mu.Unlock()

	if woken := t.sched.Block(ctx, tid); !woken {
		// Signal lost the race, or ctx ended: tear down our own
		// registration so it cannot be matched by a later Wakeup.
		t.mu.Lock()
		t.doRemoveThread(tid)
		t.mu.Unlock()
		return vfserr.Interrupted.WithOp("waitq.Wait")
	}
	return nil
}

// Wakeup scans the event list for key.Kind and wakes every thread with a
// matching entry (object 0 is a wildcard, matched by any object, exactly
// as Event::wakeup treats w->object == 0). Each matching thread is woken
// exactly once even if it registered multiple entries on this same
// event, and all of its other pending entries (on any event) are
// detached together, mirroring doRemoveThread being called once per
// thread, not once per entry.
func (t *Table) Wakeup(key Key) {
	t.mu.Lock()

	var tids []ThreadID
	seen := make(map[ThreadID]bool)
	for idx := t.evlists[key.Kind].head; idx != noEntry; idx = t.entries[idx].next {
		e := &t.entries[idx]
		if e.object == 0 || e.object == key.Object {
			if !seen[e.tid] {
				seen[e.tid] = true
				tids = append(tids, e.tid)
			}
		}
	}
	for _, tid := range tids {
		t.doRemoveThread(tid)
	}
	t.mu.Unlock()

	for _, tid := range tids {
		t.sched.Unblock(tid)
	}
}

// WakeupThread unblocks tid only if it is currently waiting on some
// event in mask, mirroring Event::wakeupThread's events-bitmask check.
func (t *Table) WakeupThread(tid ThreadID, mask EventMask) bool {
	t.mu.Lock()
	head, ok := t.threads[tid]
	if !ok {
		t.mu.Unlock()
		return false
	}
	match := false
	for idx := head; idx != noEntry; idx = t.entries[idx].tnext {
		if t.entries[idx].kind.Mask()&mask != 0 {
			match = true
			break
		}
	}
	if !match {
		t.mu.Unlock()
		return false
	}
	t.doRemoveThread(tid)
	t.mu.Unlock()

	t.sched.Unblock(tid)
	return true
}

// Remove detaches and frees every wait entry belonging to tid without
// waking it, for use when a thread exits (spec.md §4.1's remove(thread)).
func (t *Table) Remove(tid ThreadID) {
	t.mu.Lock()
	t.doRemoveThread(tid)
	t.mu.Unlock()
}

// doRemoveThread detaches every entry in tid's chain from its event list
// and returns it to the free pool. Caller holds t.mu.
func (t *Table) doRemoveThread(tid ThreadID) {
	head, ok := t.threads[tid]
	if !ok {
		return
	}
	for idx := head; idx != noEntry; {
		e := &t.entries[idx]
		next := e.tnext
		t.unlinkEvent(idx)
		t.waiters.WithLabelValues(e.kind.String()).Dec()
		t.freeEntry(idx)
		idx = next
	}
	delete(t.threads, tid)
}

// allocEntry pops one entry off the free list. Caller holds t.mu and has
// already verified capacity.
func (t *Table) allocEntry() int32 {
	idx := t.freeHead
	t.freeHead = t.entries[idx].next
	t.freeCount--
	return idx
}

func (t *Table) freeEntry(idx int32) {
	t.entries[idx] = entry{next: t.freeHead}
	t.freeHead = idx
	t.freeCount++
}

func (t *Table) pushEvent(kind EventKind, idx int32) {
	l := &t.evlists[kind]
	t.entries[idx].prev = l.tail
	t.entries[idx].next = noEntry
	if l.tail != noEntry {
		t.entries[l.tail].next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
}

func (t *Table) unlinkEvent(idx int32) {
	e := &t.entries[idx]
	l := &t.evlists[e.kind]
	if e.prev != noEntry {
		t.entries[e.prev].next = e.next
	} else {
		l.head = e.next
	}
	if e.next != noEntry {
		t.entries[e.next].prev = e.prev
	} else {
		l.tail = e.prev
	}
}

// Len reports the number of currently registered wait entries, for tests
// and introspection (vfsctl waiters).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) - t.freeCount
}

// Waiter is one blocked thread's registration, for introspection.
type Waiter struct {
	Thread ThreadID
	Kind   EventKind
	Object Object
}

// Waiters returns a snapshot of every currently registered wait entry,
// for cmd/vfsctl's "waiters" subcommand.
func (t *Table) Waiters() []Waiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Waiter, 0, len(t.entries)-t.freeCount)
	for i := range t.entries {
		e := &t.entries[i]
		if e.inUse {
			out = append(out, Waiter{Thread: e.tid, Kind: e.kind, Object: e.object})
		}
	}
	return out
}
