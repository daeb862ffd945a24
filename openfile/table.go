// Package openfile implements the open-file table from spec.md §4.3: a
// global slab of process-visible file handles with position, flags, and
// sharing policy. Grounded on source/kernel/src/vfs/openfile.cc (the
// refCount/usageCount two-counter close deferral, the fcntl command
// set) and on internal/buffer's slab-growth pattern (a dense array
// extended a block at a time, freed entries threaded onto a singly
// linked freelist).
package openfile

import (
	"sync"

	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
)

// Flags mirror the access/role bits spec.md §3 lists for an open-file.
type Flags uint32

const (
	Read Flags = 1 << iota
	Write
	Msgs // "message" access: the open-file is used for send/receive, not byte I/O
	NoBlock
	Exclusive
	DeviceRole // this open-file is the driver's own handle onto a channel
)

// accessSet is the subset of Flags that participates in the "same
// access set" sharing test from spec.md §3 (NoBlock does not: two opens
// that differ only in blocking mode still share an entry, matching
// F_SETFL semantics which mutate only that bit in place).
const accessSet = Read | Write | Msgs | Exclusive | DeviceRole

// blockSize is how many entries the slab grows by at a time, mirroring
// internal/buffer's page-at-a-time growth.
const blockSize = 64

// Entry is one open-file. All fields are guarded by Table.mu except
// Position, which has its own lock (spec.md §5: "Per-open-file locks
// guard position and flags").
type Entry struct {
	inUse bool

	Node  vfsnode.ID
	Flags Flags
	Owner int

	RefCount int32 // number of opens sharing this entry
	borrowed int32 // spec.md §4.3's "in-use count": outstanding request/release pairs

	posMu    sync.Mutex
	Position int64

	pendingClose bool
	next         int32 // freelist link
}

// Table is the global open-file slab.
type Table struct {
	mu       sync.Mutex
	entries  []Entry
	freeHead int32

	tree *vfsnode.Tree
}

const noIndex = -1

// New constructs an empty open-file table bound to tree (needed to
// answer kind-dependent questions like "is this node a pipe" for Seek,
// and to reach semaphore/pipe payloads for Fcntl).
func New(tree *vfsnode.Tree) *Table {
	return &Table{freeHead: noIndex, tree: tree}
}

// Handle identifies an Entry stably across slab growth.
type Handle int32

// GetFree returns an open-file for (pid, node, flags), reusing an
// existing entry when one already matches (same owner, same node, same
// access set, neither side exclusive), or allocating a fresh one.
// Returns vfserr.Busy if flags requests Exclusive and another open of
// this node already exists, or if the node is already held exclusive.
//
// The caller must already hold one vfsnode.Tree reference on node
// (from Tree.Request or Tree.Create) before calling GetFree. When an
// existing entry is reused, that entry already owns a tree reference
// on node's behalf, so GetFree releases the caller's redundant one.
// When a new entry is allocated, it adopts the caller's reference;
// Close releases it once the entry is actually freed.
func (t *Table) GetFree(pid int, flags Flags, node vfsnode.ID) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wantExclusive := flags&Exclusive != 0
	for i := range t.entries {
		e := &t.entries[i]
		if !e.inUse || e.Node != node {
			continue
		}
		exclusiveHeld := e.Flags&Exclusive != 0
		if wantExclusive || exclusiveHeld {
			return 0, vfserr.Busy.WithOp("open")
		}
		if e.Owner == pid && e.Flags&accessSet == flags&accessSet {
			e.RefCount++
			t.tree.Release(node)
			return Handle(i), nil
		}
	}

	idx := t.alloc()
	t.entries[idx] = Entry{
		inUse:    true,
		Node:     node,
		Flags:    flags,
		Owner:    pid,
		RefCount: 1,
	}
	return Handle(idx), nil
}

func (t *Table) alloc() int32 {
	if t.freeHead != noIndex {
		idx := t.freeHead
		t.freeHead = t.entries[idx].next
		return idx
	}
	grow := len(t.entries) + blockSize
	grown := make([]Entry, grow)
	copy(grown, t.entries)
	for i := len(t.entries); i < grow; i++ {
		grown[i].next = int32(i + 1)
	}
	grown[grow-1].next = noIndex
	t.entries = grown
	idx := int32(len(t.entries) - blockSize)
	t.freeHead = t.entries[idx].next
	return idx
}

// free returns idx to the freelist and releases the tree reference the
// entry adopted when it was allocated in GetFree.
func (t *Table) free(idx int32) {
	node := t.entries[idx].Node
	t.entries[idx] = Entry{next: t.freeHead}
	t.freeHead = idx
	t.tree.Release(node)
}

// Get returns a copy of the entry's exported fields, or ok=false if the
// handle is stale.
func (t *Table) Get(h Handle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) >= len(t.entries) || !t.entries[h].inUse {
		return Entry{}, false
	}
	e := t.entries[h]
	return e, true
}

// Borrow increments the "in-use" count spec.md §4.3 describes: a
// transient hold used by a kernel code path that has a pointer to the
// entry in flight (e.g. a blocked channel receive) and must prevent the
// entry from being torn down underneath it even if the owning fd is
// closed concurrently. Pair with Release.
func (t *Table) Borrow(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) < len(t.entries) && t.entries[h].inUse {
		t.entries[h].borrowed++
	}
}

// Release balances Borrow. If the entry's RefCount had already reached
// zero while borrowed, this is the deferred close spec.md §4.3
// describes: the slot is returned to the freelist only now.
func (t *Table) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) >= len(t.entries) || !t.entries[h].inUse {
		return
	}
	e := &t.entries[h]
	e.borrowed--
	if e.borrowed == 0 && e.pendingClose {
		t.free(int32(h))
	}
}

// Close decrements RefCount. When it reaches zero, the entry is freed
// immediately unless something still holds it Borrowed, in which case
// the free is deferred to the matching Release (spec.md §4.3's two-
// counter scheme).
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) >= len(t.entries) || !t.entries[h].inUse {
		return vfserr.BadDescriptor.WithOp("close")
	}
	e := &t.entries[h]
	e.RefCount--
	if e.RefCount > 0 {
		return nil
	}
	if e.borrowed > 0 {
		e.pendingClose = true
		return nil
	}
	t.free(int32(h))
	return nil
}

// Seek implements spec.md §4.3's seek: set/current/end, with end-seek
// rejected for channel and pipe nodes.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

func (t *Table) Seek(h Handle, offset int64, whence Whence, endSize func() (int64, error)) (int64, error) {
	t.mu.Lock()
	if int(h) >= len(t.entries) || !t.entries[h].inUse {
		t.mu.Unlock()
		return 0, vfserr.BadDescriptor.WithOp("seek")
	}
	e := &t.entries[h]
	node := e.Node
	t.mu.Unlock()

	if whence == SeekEnd {
		if kind, ok := t.tree.KindOf(node); ok && (kind == vfsnode.KindChannel || kind == vfsnode.KindPipe) {
			return 0, vfserr.IllegalSeek.WithOp("seek")
		}
	}

	e.posMu.Lock()
	defer e.posMu.Unlock()

	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = e.Position + offset
	case SeekEnd:
		if endSize == nil {
			return 0, vfserr.InvalidArgument.WithOp("seek")
		}
		size, err := endSize()
		if err != nil {
			return 0, err
		}
		newPos = size + offset
	}
	if newPos < 0 {
		return 0, vfserr.InvalidArgument.WithOp("seek")
	}
	e.Position = newPos
	return newPos, nil
}

// FcntlCmd enumerates spec.md §4.3's fcntl commands.
type FcntlCmd int

const (
	GetAccess FcntlCmd = iota
	GetFlags
	SetFlags
	SetDataReadable
	SetUnused
	SemUp
	SemDown
)

// readableSetter and unusedSetter let Fcntl reach into a channel's or
// device's payload without openfile importing the channel/device
// packages.
type readableSetter interface{ SetReadable(bool) }
type unusedSetter interface{ SetUnused() }

// Fcntl implements the command set spec.md §4.3 names. Only the
// blocking/non-blocking bit of Flags is mutable via SetFlags.
func (t *Table) Fcntl(h Handle, cmd FcntlCmd, arg int) (int, error) {
	t.mu.Lock()
	if int(h) >= len(t.entries) || !t.entries[h].inUse {
		t.mu.Unlock()
		return 0, vfserr.BadDescriptor.WithOp("fcntl")
	}
	e := &t.entries[h]
	node := e.Node

	switch cmd {
	case GetAccess:
		v := int(e.Flags & (Read | Write | Msgs))
		t.mu.Unlock()
		return v, nil
	case GetFlags:
		v := 0
		if e.Flags&NoBlock != 0 {
			v = 1
		}
		t.mu.Unlock()
		return v, nil
	case SetFlags:
		if arg != 0 {
			e.Flags |= NoBlock
		} else {
			e.Flags &^= NoBlock
		}
		t.mu.Unlock()
		return 0, nil
	}
	t.mu.Unlock()

	// The remaining commands either touch a different node's payload or
	// can block (SemDown); none may be handled under t.mu.
	switch cmd {
	case SetDataReadable:
		kind, ok := t.tree.KindOf(node)
		if !ok || kind != vfsnode.KindDevice {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		payload := t.tree.Payload(node)
		handle, ok := payload.(*vfsnode.DeviceHandle)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		if setter, ok := handle.Impl.(readableSetter); ok {
			setter.SetReadable(arg != 0)
		}
		return 0, nil

	case SetUnused:
		kind, ok := t.tree.KindOf(node)
		if !ok || kind != vfsnode.KindChannel {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		payload := t.tree.Payload(node)
		handle, ok := payload.(*vfsnode.ChannelHandle)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		if setter, ok := handle.Impl.(unusedSetter); ok {
			setter.SetUnused()
		}
		return 0, nil

	case SemUp, SemDown:
		kind, ok := t.tree.KindOf(node)
		if !ok || kind != vfsnode.KindSem {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		sem, ok := t.tree.Payload(node).(*vfsnode.Sem)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("fcntl")
		}
		if cmd == SemUp {
			sem.Up()
		} else {
			sem.Down()
		}
		return 0, nil
	}

	return 0, vfserr.InvalidArgument.WithOp("fcntl")
}

// Len returns the number of in-use entries, for introspection.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].inUse {
			n++
		}
	}
	return n
}
