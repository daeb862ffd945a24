package vfsnode

import (
	"os"

	fallocate "github.com/detailyang/go-fallocate"
)

// NewRegularFile creates a temp-file-backed RegularFile payload for a
// newly created KindFile node. If sizeHint is non-zero the backing file
// is preallocated with Fallocate, the Go-native analogue of a real
// filesystem's extent preallocation on create (spec.md §1 places block-
// device filesystem layout out of scope, but the tree's regular-file
// nodes still need *some* concrete backing store).
func NewRegularFile(dir string, sizeHint int64) (*RegularFile, error) {
	f, err := os.CreateTemp(dir, "vfscore-file-*")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sizeHint > 0 {
		if err := fallocate.Fallocate(f, 0, sizeHint); err != nil {
			// Not every filesystem backing os.TempDir supports fallocate
			// (e.g. tmpfs on some kernels, or overlayfs); fall back to a
			// plain truncate rather than failing node creation outright.
			if terr := f.Truncate(sizeHint); terr != nil {
				os.Remove(f.Name())
				return nil, terr
			}
		}
	}

	return &RegularFile{Path: f.Name(), Size: sizeHint}, nil
}

// ReadAt/WriteAt/Truncate give the regular-file payload the same small
// surface samples/memfs's inode exposes for file contents, backed by
// the real file on disk instead of an in-memory []byte.

func (r *RegularFile) ReadAt(p []byte, off int64) (int, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

func (r *RegularFile) WriteAt(p []byte, off int64) (int, error) {
	f, err := os.OpenFile(r.Path, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.WriteAt(p, off)
	if end := off + int64(n); end > r.Size {
		r.Size = end
	}
	return n, err
}

func (r *RegularFile) Truncate(size int64) error {
	if err := os.Truncate(r.Path, size); err != nil {
		return err
	}
	r.Size = size
	return nil
}

func (r *RegularFile) Remove() error {
	return os.Remove(r.Path)
}
