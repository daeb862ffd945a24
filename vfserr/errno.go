// Package vfserr defines the closed error taxonomy shared by every
// component of the IPC/VFS core. It plays the role errors.go plays for
// bazilfuse: a small set of named values that call sites can compare
// against directly, backed by real errno constants so they still make
// sense at a syscall boundary.
package vfserr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a tagged kernel-style error. It wraps a unix.Errno so values
// compare equal to the errno a real syscall boundary would return, but
// carries an operation name for logging.
type Errno struct {
	unix.Errno
	Op string

	// sentinel identifies which of the named values below this Errno
	// (or a WithOp copy of it) originated from, so Is can still tell
	// NoClient and Destroyed apart even though both wrap ENOLINK.
	sentinel *Errno
}

func (e *Errno) Error() string {
	if e.Op == "" {
		return e.Errno.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
}

func (e *Errno) Unwrap() error { return e.Errno }

// New builds an *Errno for op wrapping errno.
func New(op string, errno unix.Errno) *Errno {
	return &Errno{Errno: errno, Op: op}
}

// FromResult builds an *Errno from a driver's negative-errno result
// value, per spec.md §6: "All return either a non-negative result or a
// negative errno." When the errno is one of the named values below, the
// result is derived from that value (via WithOp), so Is matches it;
// ENOLINK maps to NoClient.
func FromResult(op string, result int32) *Errno {
	errno := unix.Errno(-result)
	for _, s := range []*Errno{
		InvalidArgument, BadDescriptor, NotPermitted, NoSuchEntry, Exists,
		Busy, WouldBlock, Interrupted, NoMemory, NoFileSlot, NoClient,
		Destroyed, NotSupported, IllegalSeek, Fault,
	} {
		if s.Errno == errno {
			return s.WithOp(op)
		}
	}
	return New(op, errno)
}

// The closed taxonomy from spec.md §7. Each is a sentinel *Errno with no
// op set; call sites that want op context use WithOp.
var (
	InvalidArgument = &Errno{Errno: unix.EINVAL}
	BadDescriptor   = &Errno{Errno: unix.EBADF}
	NotPermitted    = &Errno{Errno: unix.EPERM}
	NoSuchEntry     = &Errno{Errno: unix.ENOENT}
	Exists          = &Errno{Errno: unix.EEXIST}
	Busy            = &Errno{Errno: unix.EBUSY}
	WouldBlock      = &Errno{Errno: unix.EAGAIN}
	Interrupted     = &Errno{Errno: unix.EINTR}
	NoMemory        = &Errno{Errno: unix.ENOMEM}
	NoFileSlot      = &Errno{Errno: unix.EMFILE}
	NoClient        = &Errno{Errno: unix.ENOLINK}
	Destroyed       = &Errno{Errno: unix.ENOLINK, Op: "destroyed"}
	NotSupported    = &Errno{Errno: unix.ENOTSUP}
	IllegalSeek     = &Errno{Errno: unix.ESPIPE}
	Fault           = &Errno{Errno: unix.EFAULT}
)

func init() {
	for _, s := range []*Errno{
		InvalidArgument, BadDescriptor, NotPermitted, NoSuchEntry, Exists,
		Busy, WouldBlock, Interrupted, NoMemory, NoFileSlot, NoClient,
		Destroyed, NotSupported, IllegalSeek, Fault,
	} {
		s.sentinel = s
	}
}

// WithOp returns a copy of the sentinel tagged with an operation name,
// so logs can say "read: no such entry" instead of a bare errno. The
// copy still reports true from Is against the sentinel it was derived
// from, regardless of the op string attached.
func (e *Errno) WithOp(op string) *Errno {
	root := e.sentinel
	if root == nil {
		root = e
	}
	return &Errno{Errno: e.Errno, Op: op, sentinel: root}
}

// Is reports whether err is sentinel itself or a WithOp copy derived
// from it. Distinct sentinels that happen to share an underlying Errno
// (e.g. NoClient and Destroyed both ride on ENOLINK) are correctly told
// apart since each tracks its own origin rather than comparing the
// wrapped errno directly.
func Is(err error, sentinel *Errno) bool {
	e, ok := err.(*Errno)
	if !ok {
		return false
	}
	if e == sentinel {
		return true
	}
	root := e.sentinel
	if root == nil {
		root = e
	}
	return root == sentinel
}
