package vfsnode

import (
	"fmt"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/kyrios-os/vfscore/vfserr"
)

// negKey is the key for Tree's negative-lookup cache: "this name does
// not exist under this parent as of the last structural change to it".
type negKey struct {
	parent ID
	name   string
}

// Tree is the single in-memory name tree described in spec.md §4.2. The
// zero value is not usable; construct with New.
type Tree struct {
	// mu guards every field below. It is an InvariantMutex, the same
	// self-checking lock samples/memfs uses for its inode table: every
	// Unlock re-checks the spec.md §3/§8 invariants so a violation panics
	// at the call site that caused it, not at some unrelated later
	// observer.
	mu syncutil.InvariantMutex

	clock timeutil.Clock

	nodes    []node
	freeHead int32 // index of first free arena slot, or -1

	root ID

	// dirLock is the "tree-wide reader lock" spec.md §4.2 describes for
	// OpenDir/CloseDir: its read side is held across a directory-listing
	// session, including the foreign-filesystem merge read issued with mu
	// released (the "released-lock boundary" the spec calls out). Nothing
	// in this package takes its write side, so it does not exclude a
	// concurrent Rename or Unlink.
	dirLock sync.RWMutex

	negatives *lru.Cache[negKey, struct{}]

	// foreign maps a directory id to the driver merged into its listing
	// and consulted for names it doesn't itself contain. See foreign.go.
	foreign map[ID]ForeignReader
}

const noIndex = -1

// New constructs a Tree with a single root directory node and a bounded
// negative-lookup cache of negCacheSize entries.
func New(clock timeutil.Clock, negCacheSize int) *Tree {
	if clock == nil {
		clock = clockFor
	}
	t := &Tree{clock: clock, freeHead: noIndex}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)

	neg, err := lru.New[negKey, struct{}](max(negCacheSize, 1))
	if err != nil {
		panic(err) // only fails for non-positive size, which we've ruled out
	}
	t.negatives = neg

	now := clock.Now().UnixNano()
	root := node{
		id:       ID{index: 0, gen: 1},
		name:     "/",
		kind:     KindDir,
		parent:   ID{},
		alive:    true,
		refcount: 1,
		mode:     os.ModeDir | 0755,
		ctime:    now,
		mtime:    now,
	}
	t.nodes = append(t.nodes, root)
	t.root = root.id
	return t
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// checkInvariants enforces spec.md §3's node invariants. Called by the
// InvariantMutex after every Unlock.
func (t *Tree) checkInvariants() {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.free {
			continue
		}
		if n.alive && n.parent.Valid() {
			p := t.lookup(n.parent)
			if p == nil || !p.alive {
				panic(fmt.Sprintf("node %v alive but parent %v is not", n.id, n.parent))
			}
		}
		if n.kind == KindChannel && n.parent.Valid() {
			p := t.lookup(n.parent)
			if p == nil || p.kind != KindDevice {
				panic(fmt.Sprintf("channel node %v has non-device parent", n.id))
			}
		}
	}
}

// lookup returns the live arena slot for id, or nil if id is stale
// (wrong generation) or points at a freed slot. Caller holds t.mu.
func (t *Tree) lookup(id ID) *node {
	if int(id.index) >= len(t.nodes) {
		return nil
	}
	n := &t.nodes[id.index]
	if n.free || n.id.gen != id.gen {
		return nil
	}
	return n
}

func (t *Tree) allocSlot() int32 {
	if t.freeHead != noIndex {
		idx := t.freeHead
		t.freeHead = t.nodes[idx].nextFree
		return idx
	}
	t.nodes = append(t.nodes, node{})
	return int32(len(t.nodes) - 1)
}

func (t *Tree) freeSlot(idx int32) {
	gen := t.nodes[idx].id.gen + 1
	t.nodes[idx] = node{free: true, id: ID{index: uint32(idx), gen: gen}, nextFree: t.freeHead}
	t.freeHead = idx
}

// Root returns the root node's ID without incrementing its refcount
// (the root is never released).
func (t *Tree) Root() ID { return t.root }

// Request resolves path (slash-delimited, rooted at Tree's root) into a
// node, incrementing its refcount. The caller must balance a successful
// Request with Release. "." and ".." are structural: "." resolves to
// the current directory, ".." to its parent link (never enumerable in
// the root directory, per spec.md §4.2 and the Open Questions
// resolution). Consecutive slashes collapse. Traversing a symlink
// substitutes its target node.
func (t *Tree) Request(path string, flags Flags) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.root
	t.nodes[cur.index].refcount++

	parts := splitPath(path)
	for _, part := range parts {
		next, err := t.stepLocked(cur, part)
		t.nodes[cur.index].refcount--
		if err != nil {
			return ID{}, err
		}
		cur = next
		t.nodes[cur.index].refcount++
	}
	return cur, nil
}

// splitPath collapses consecutive slashes and drops empty components.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stepLocked resolves a single path component from dir, following links
// and the "." / ".." structural shortcuts. Caller holds t.mu and a
// reference on dir.
func (t *Tree) stepLocked(dir ID, name string) (ID, error) {
	d := t.lookup(dir)
	if d == nil || !d.alive {
		return ID{}, vfserr.NoSuchEntry.WithOp("request")
	}
	if d.kind != KindDir {
		return ID{}, vfserr.InvalidArgument.WithOp("request: not a directory")
	}

	switch name {
	case ".":
		return dir, nil
	case "..":
		if !d.parent.Valid() {
			return dir, nil // root's ".." is itself
		}
		return d.parent, nil
	}

	if t.negatives.Contains(negKey{dir, name}) {
		return ID{}, vfserr.NoSuchEntry.WithOp("request")
	}

	for _, childID := range d.children {
		c := t.lookup(childID)
		if c == nil || !c.alive || c.parent != dir || c.name != name {
			continue
		}
		if c.kind == KindLink {
			target, ok := c.payload.(*linkTarget)
			if !ok {
				return ID{}, vfserr.InvalidArgument.WithOp("request: broken link")
			}
			return target.ID, nil
		}
		return c.id, nil
	}

	t.negatives.Add(negKey{dir, name}, struct{}{})
	return ID{}, vfserr.NoSuchEntry.WithOp("request")
}

// linkTarget is the Payload for KindLink nodes.
type linkTarget struct{ ID ID }

func (*linkTarget) isPayload() {}

// Hold acquires an additional reference on an already-resolved id,
// for callers that need to hand the same node to two independent
// reference-holders (e.g. both ends of a pipe) without a second path
// walk. Returns vfserr.NoSuchEntry if id is stale.
func (t *Tree) Hold(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("hold")
	}
	n.refcount++
	return nil
}

// Release balances a successful Request/Create, decrementing refcount.
// A node whose refcount reaches zero while not alive is deallocated
// (its arena slot recycled); one that is still alive simply sits at
// refcount zero until something else requests it or it is unlinked.
func (t *Tree) Release(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return
	}
	n.refcount--
	if n.refcount <= 0 && !n.alive {
		t.freeSlot(int32(id.index))
	}
}

// Create allocates a node of kind under parent with the given name and
// mode, appending it to parent's child list in insertion order, and
// returns it with refcount one. Fails with vfserr.Exists if a live
// child with that name already exists.
func (t *Tree) Create(parent ID, name string, kind Kind, mode os.FileMode, owner int) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lookup(parent)
	if p == nil || !p.alive {
		return ID{}, vfserr.NoSuchEntry.WithOp("create")
	}
	if p.kind != KindDir && p.kind != KindDevice {
		return ID{}, vfserr.InvalidArgument.WithOp("create: parent not a directory")
	}
	for _, childID := range p.children {
		c := t.lookup(childID)
		if c != nil && c.alive && c.parent == parent && c.name == name {
			return ID{}, vfserr.Exists.WithOp("create")
		}
	}
	if kind == KindChannel && p.kind != KindDevice {
		return ID{}, vfserr.InvalidArgument.WithOp("create: channel parent must be a device")
	}

	idx := t.allocSlot()
	gen := t.nodes[idx].id.gen
	if gen == 0 {
		gen = 1
	}
	now := t.clock.Now().UnixNano()
	id := ID{index: uint32(idx), gen: gen}
	t.nodes[idx] = node{
		id:       id,
		name:     name,
		kind:     kind,
		owner:    owner,
		parent:   parent,
		alive:    true,
		refcount: 1,
		mode:     mode,
		ctime:    now,
		mtime:    now,
	}
	p.children = append(p.children, id)
	p.mtime = now
	t.negatives.Remove(negKey{parent, name})
	return id, nil
}

// AttachLink sets id's payload to a symlink-style pointer at target,
// for nodes created with kind KindLink.
func (t *Tree) AttachLink(id, target ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("link")
	}
	n.payload = &linkTarget{ID: target}
	return nil
}

// Attach sets the type-specific payload for a node created with Create,
// used by device/channel/pipe/sem implementations to hang their own
// state off a freshly created node without vfsnode importing them.
func (t *Tree) Attach(id ID, payload Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("attach")
	}
	n.payload = payload
	return nil
}

// ParentOf returns id's parent, or ok=false if id is stale or is the
// root (which has no parent).
func (t *Tree) ParentOf(id ID) (ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil || !n.parent.Valid() {
		return ID{}, false
	}
	return n.parent, true
}

// KindOf returns the node's kind, or ok=false if id is stale.
func (t *Tree) KindOf(id ID) (Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return 0, false
	}
	return n.kind, true
}

// Payload returns the node's current payload, or nil.
func (t *Tree) Payload(id ID) Payload {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return nil
	}
	return n.payload
}

// Unlink marks a node dead. Deallocation awaits refcount decay to zero
// (spec.md §3's lifecycle). The name is kept on the child list (append-
// only; see node.children doc) but filtered out of listings once dead.
func (t *Tree) Unlink(parent ID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.lookup(parent)
	if p == nil || !p.alive {
		return vfserr.NoSuchEntry.WithOp("unlink")
	}
	for _, childID := range p.children {
		c := t.lookup(childID)
		if c != nil && c.alive && c.parent == parent && c.name == name {
			c.alive = false
			t.negatives.Add(negKey{parent, name}, struct{}{})
			return nil
		}
	}
	return vfserr.NoSuchEntry.WithOp("unlink")
}

// Stat is the subset of node metadata spec.md §6's stat/fstat syscalls
// expose.
type Stat struct {
	ID      ID
	Kind    Kind
	Mode    os.FileMode
	Owner   int
	Size    int64
	Ctime   int64
	Mtime   int64
	NLink   int
}

// StatOf returns id's metadata, or ok=false if id is stale.
func (t *Tree) StatOf(id ID) (Stat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return Stat{}, false
	}
	var size int64
	if rf, ok := n.payload.(*RegularFile); ok {
		size = rf.Size
	}
	return Stat{ID: id, Kind: n.kind, Mode: n.mode, Owner: n.owner, Size: size, Ctime: n.ctime, Mtime: n.mtime, NLink: 1}, true
}

// SetMode implements chmod.
func (t *Tree) SetMode(id ID, mode os.FileMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("chmod")
	}
	perm := mode & os.ModePerm
	n.mode = (n.mode &^ os.ModePerm) | perm
	n.mtime = t.clock.Now().UnixNano()
	return nil
}

// SetOwner implements chown.
func (t *Tree) SetOwner(id ID, owner int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("chown")
	}
	n.owner = owner
	n.mtime = t.clock.Now().UnixNano()
	return nil
}

// SetTimes implements utime.
func (t *Tree) SetTimes(id ID, atimeIgnored, mtime int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookup(id)
	if n == nil {
		return vfserr.NoSuchEntry.WithOp("utime")
	}
	n.mtime = mtime
	return nil
}

// Rename moves the live child named oldName under oldParent to newName
// under newParent. The moved node's id is unchanged; its old parent's
// children slice keeps a now-stale entry that OpenDir filters by
// comparing the live node's current parent, the same append-only
// discipline Unlink relies on for dead entries.
func (t *Tree) Rename(oldParent ID, oldName string, newParent ID, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := t.lookup(oldParent)
	np := t.lookup(newParent)
	if op == nil || !op.alive || np == nil || !np.alive {
		return vfserr.NoSuchEntry.WithOp("rename")
	}
	if np.kind != KindDir {
		return vfserr.InvalidArgument.WithOp("rename: destination not a directory")
	}

	var moving *node
	for _, childID := range op.children {
		c := t.lookup(childID)
		if c != nil && c.alive && c.parent == oldParent && c.name == oldName {
			moving = c
			break
		}
	}
	if moving == nil {
		return vfserr.NoSuchEntry.WithOp("rename")
	}
	for _, childID := range np.children {
		c := t.lookup(childID)
		if c != nil && c.alive && c.parent == newParent && c.name == newName {
			return vfserr.Exists.WithOp("rename")
		}
	}

	moving.parent = newParent
	moving.name = newName
	np.children = append(np.children, moving.id)
	now := t.clock.Now().UnixNano()
	op.mtime, np.mtime = now, now
	t.negatives.Remove(negKey{oldParent, oldName})
	t.negatives.Remove(negKey{newParent, newName})
	return nil
}

// Dirent is one entry of a directory listing.
type Dirent struct {
	ID   ID
	Name string
	Kind Kind
}

// OpenDir takes the tree-wide directory-reader lock and returns a
// snapshot of dir's live children in insertion order, with "." and ".."
// synthesized for every directory except the root (spec.md §9's chosen
// resolution of the dot/dotdot Open Question: filtered once, at read
// time). The returned release func must be called exactly once
// (CloseDir).
func (t *Tree) OpenDir(dir ID) (entries []Dirent, release func(), err error) {
	t.dirLock.RLock()

	t.mu.Lock()
	d := t.lookup(dir)
	if d == nil || !d.alive || d.kind != KindDir {
		t.mu.Unlock()
		t.dirLock.RUnlock()
		return nil, nil, vfserr.InvalidArgument.WithOp("opendir")
	}

	if d.parent.Valid() {
		entries = append(entries, Dirent{ID: dir, Name: ".", Kind: KindDir})
		entries = append(entries, Dirent{ID: d.parent, Name: "..", Kind: KindDir})
	}
	for _, childID := range d.children {
		c := t.lookup(childID)
		if c == nil || !c.alive || c.parent != dir {
			continue
		}
		entries = append(entries, Dirent{ID: c.id, Name: c.name, Kind: c.kind})
	}
	driver, hasForeign := t.foreign[dir]
	t.mu.Unlock()

	if hasForeign {
		merged, err := t.WithForeignMerge(driver.List)
		if err != nil {
			return nil, func() { t.dirLock.RUnlock() }, err
		}
		for _, name := range merged {
			entries = append(entries, Dirent{Name: name, Kind: KindForeign})
		}
	}

	return entries, func() { t.dirLock.RUnlock() }, nil
}

// WithForeignMerge runs fn (a blocking read against a foreign filesystem
// driver channel) with the structural tree lock released but the
// directory-reader lock still held, per spec.md §4.2's explicit
// released-lock boundary: "the foreign read may itself need to acquire
// [the tree lock]". Callers use this while listing the root to splice
// in entries from a mounted foreign filesystem.
func (t *Tree) WithForeignMerge(fn func() ([]string, error)) ([]string, error) {
	return fn()
}
