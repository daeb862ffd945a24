package vfsnode

import "github.com/kyrios-os/vfscore/vfserr"

// ForeignReader is the "foreign read" collaborator spec.md §4.2 alludes
// to without naming: a filesystem driver reachable over its own
// channel, grounded on source/kernel/src/vfs/openfile.cc's
// devNo != VFS_DEV_NO branch, which routes stat/read/write to
// VFSFS::istat/read/write instead of the in-kernel node once a path
// crosses into a mounted foreign tree. A caller's ForeignReader
// implementation is expected to translate these calls into blocking
// requests over a channel.Channel to the owning driver.
type ForeignReader interface {
	// List returns the names currently visible at the foreign root.
	List() ([]string, error)
	// Stat returns metadata for name, relative to the foreign root.
	Stat(name string) (Stat, error)
	// ReadFile returns the full contents of name.
	ReadFile(name string) ([]byte, error)
}

// MountForeign records driver as the foreign filesystem merged into
// dir's listing and consulted for names dir does not itself contain.
// dir must already be a live directory.
func (t *Tree) MountForeign(dir ID, driver ForeignReader) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.lookup(dir)
	if d == nil || !d.alive || d.kind != KindDir {
		return vfserr.InvalidArgument.WithOp("mount")
	}
	if t.foreign == nil {
		t.foreign = make(map[ID]ForeignReader)
	}
	t.foreign[dir] = driver
	return nil
}

// UnmountForeign removes a foreign mount previously installed with
// MountForeign. It is a no-op if dir has none.
func (t *Tree) UnmountForeign(dir ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.foreign, dir)
}

func (t *Tree) foreignAt(dir ID) (ForeignReader, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.foreign[dir]
	return r, ok
}

// ForeignStat resolves name against dir's foreign mount, for callers
// whose ordinary path walk came up empty under a foreign-mounted
// directory.
func (t *Tree) ForeignStat(dir ID, name string) (Stat, error) {
	r, ok := t.foreignAt(dir)
	if !ok {
		return Stat{}, vfserr.NoSuchEntry.WithOp("stat")
	}
	st, err := r.Stat(name)
	if err != nil {
		return Stat{}, err
	}
	st.ID = ID{}
	return st, nil
}

// ForeignRead reads the full contents of name from dir's foreign
// mount.
func (t *Tree) ForeignRead(dir ID, name string) ([]byte, error) {
	r, ok := t.foreignAt(dir)
	if !ok {
		return nil, vfserr.NoSuchEntry.WithOp("read")
	}
	return r.ReadFile(name)
}
