package vfsnode

import "github.com/kyrios-os/vfscore/vfserr"

// NewPipeRing constructs a fixed-capacity ring buffer payload for a
// freshly created KindPipe node.
func NewPipeRing(capacity int) *PipeRing {
	return &PipeRing{Buf: make([]byte, capacity)}
}

// PipeTryRead copies up to len(buf) bytes out of id's ring buffer
// without blocking. wouldBlock is true when the ring is empty. This
// package wakes nobody: the caller waits on event-kind PipeEmpty, and
// writers wake PipeEmpty after a successful write.
func (t *Tree) PipeTryRead(id ID, buf []byte) (n int, wouldBlock bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nd := t.lookup(id)
	if nd == nil || nd.kind != KindPipe {
		return 0, false, vfserr.InvalidArgument.WithOp("read")
	}
	p, ok := nd.payload.(*PipeRing)
	if !ok {
		return 0, false, vfserr.InvalidArgument.WithOp("read")
	}
	if p.Count == 0 {
		return 0, true, nil
	}
	n = len(buf)
	if n > p.Count {
		n = p.Count
	}
	for i := 0; i < n; i++ {
		buf[i] = p.Buf[p.Head]
		p.Head = (p.Head + 1) % len(p.Buf)
	}
	p.Count -= n
	return n, false, nil
}

// PipeTryWrite appends up to len(data) bytes into id's ring buffer
// without blocking, returning wouldBlock when the ring has no free
// space at all.
func (t *Tree) PipeTryWrite(id ID, data []byte) (n int, wouldBlock bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nd := t.lookup(id)
	if nd == nil || nd.kind != KindPipe {
		return 0, false, vfserr.InvalidArgument.WithOp("write")
	}
	p, ok := nd.payload.(*PipeRing)
	if !ok {
		return 0, false, vfserr.InvalidArgument.WithOp("write")
	}
	free := len(p.Buf) - p.Count
	if free == 0 {
		return 0, true, nil
	}
	n = len(data)
	if n > free {
		n = free
	}
	tail := (p.Head + p.Count) % len(p.Buf)
	for i := 0; i < n; i++ {
		p.Buf[tail] = data[i]
		tail = (tail + 1) % len(p.Buf)
	}
	p.Count += n
	return n, false, nil
}
