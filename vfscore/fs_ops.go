package vfscore

import (
	"context"
	"os"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/device"
	"github.com/kyrios-os/vfscore/openfile"
	"github.com/kyrios-os/vfscore/signal"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
	"github.com/kyrios-os/vfscore/waitq"
)

// Process is the minimal per-caller identity every syscall method
// needs: a thread id for wait-table registration plus the pid/uid/gid
// spec.md's open-request message and open-file ownership fields carry.
type Process struct {
	Thread waitq.ThreadID
	PID    int
	UID    int
	GID    int
}

// FD is an open-file handle as seen by userland.
type FD openfile.Handle

func splitLast(p string) (dir, name string) {
	return path.Dir(p), path.Base(p)
}

// Open implements spec.md §6's open(path, flags). FlagCreate creates a
// regular file if path does not already exist. Opening a device node
// additionally establishes a client channel with it and runs the
// channel-level open handshake (spec.md §4.4).
func (s *Subsystem) Open(ctx context.Context, p Process, pathname string, flags vfsnode.Flags, access openfile.Flags) (FD, error) {
	id, err := s.Tree.Request(pathname, flags)
	if err != nil {
		if !vfserr.Is(err, vfserr.NoSuchEntry) || flags&vfsnode.FlagCreate == 0 {
			return 0, err
		}
		dir, name := splitLast(pathname)
		parent, perr := s.Tree.Request(dir, 0)
		if perr != nil {
			return 0, perr
		}
		id, err = s.Tree.Create(parent, name, vfsnode.KindFile, 0644, p.PID)
		s.Tree.Release(parent)
		if err != nil {
			return 0, err
		}
		rf, rerr := vfsnode.NewRegularFile(os.TempDir(), 0)
		if rerr != nil {
			s.Tree.Unlink(parent, name)
			return 0, rerr
		}
		if aerr := s.Tree.Attach(id, rf); aerr != nil {
			return 0, aerr
		}
	}

	kind, _ := s.Tree.KindOf(id)
	if kind == vfsnode.KindDevice {
		return s.openDevice(ctx, p, id, access)
	}

	h, err := s.Files.GetFree(p.PID, access, id)
	if err != nil {
		s.Tree.Release(id)
		return 0, err
	}
	return FD(h), nil
}

// openDevice creates a new channel node under dev, wires a
// channel.Channel and attaches it to the new node, registers it with
// the device, and runs the client-side open handshake. A failure after
// the channel node is created unwinds it, per spec.md §4.4's "failures
// at step (1) propagate; failures at step (2-4) must unwind the driver
// descriptor."
func (s *Subsystem) openDevice(ctx context.Context, p Process, devID vfsnode.ID, access openfile.Flags) (FD, error) {
	dh, ok := s.Tree.Payload(devID).(*vfsnode.DeviceHandle)
	if !ok {
		return 0, vfserr.InvalidArgument.WithOp("open")
	}
	dev, ok := dh.Impl.(*device.Device)
	if !ok {
		return 0, vfserr.InvalidArgument.WithOp("open")
	}

	name := "chan." + itoaPID(p.PID) + "." + itoaPID(int(p.Thread))
	chanID, err := s.Tree.Create(devID, name, vfsnode.KindChannel, 0600, p.PID)
	if err != nil {
		return 0, err
	}

	ch := channel.New(s.Bus, s.Tree, chanID, devID, p.PID, dev)
	if err := s.Tree.Attach(chanID, &vfsnode.ChannelHandle{Impl: ch}); err != nil {
		s.Tree.Unlink(devID, name)
		s.Tree.Release(chanID)
		return 0, err
	}
	dev.AddChannel(ch)

	// GetFree adopts this Create's reference on success; on failure the
	// reference is still ours to release.
	h, err := s.Files.GetFree(p.PID, access|openfile.Msgs, chanID)
	if err != nil {
		dev.RemoveChannel(ch)
		s.Tree.Unlink(devID, name)
		s.Tree.Release(chanID)
		return 0, err
	}

	resp, err := ch.Open(ctx, p.Thread, channel.OpenRequest{
		Flags: uint32(access), UID: p.UID, GID: p.GID, PID: p.PID, Path: name,
	})
	if err != nil {
		if vfserr.Is(err, vfserr.NotSupported) {
			// spec.md §4.5: open additionally treats not-supported as
			// "nothing to do, success".
			return FD(h), nil
		}
		s.Files.Close(h)
		dev.RemoveChannel(ch)
		s.Tree.Unlink(devID, name)
		return 0, err
	}
	if resp.Result < 0 {
		s.Files.Close(h)
		dev.RemoveChannel(ch)
		s.Tree.Unlink(devID, name)
		return 0, vfserr.FromResult("open", resp.Result)
	}
	return FD(h), nil
}

func itoaPID(pid int) string {
	if pid == 0 {
		return "0"
	}
	neg := pid < 0
	if neg {
		pid = -pid
	}
	var buf [12]byte
	i := len(buf)
	for pid > 0 {
		i--
		buf[i] = byte('0' + pid%10)
		pid /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Close implements spec.md §6's close(fd). When fd is the last reference
// to a channel open-file, this runs the channel-level close handshake
// (spec.md §4.4's Active -> Closing transition) before the open-file
// slab entry is freed; a close that merely drops one of several shared
// references never touches the driver. Per spec.md §8 scenario 5,
// device close failures are logged rather than returned.
func (s *Subsystem) Close(ctx context.Context, p Process, fd FD) error {
	h := openfile.Handle(fd)
	e, ok := s.Files.Get(h)
	if !ok {
		return vfserr.BadDescriptor.WithOp("close")
	}

	if e.RefCount == 1 {
		if kind, ok := s.Tree.KindOf(e.Node); ok && kind == vfsnode.KindChannel {
			if ch, err := s.channelFor(e.Node); err == nil {
				if _, cerr := ch.Close(ctx, p.Thread); cerr != nil && !vfserr.Is(cerr, vfserr.NotSupported) {
					s.Log.WithFields(logrus.Fields{"fd": fd, "error": cerr}).Warn("device close failed")
				}
			}
		}
	}
	return s.Files.Close(h)
}

// Read implements spec.md §6's read(fd, buf, n), dispatching on node
// kind: regular files and virtual files read directly, pipes go
// through the ring buffer, and channels issue a read request/response
// cycle to the driver.
func (s *Subsystem) Read(ctx context.Context, p Process, fd FD, buf []byte) (n int, err error) {
	ctx, done := s.signalScope(ctx, p.Thread)
	defer func() { done(&err) }()

	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return 0, vfserr.BadDescriptor.WithOp("read")
	}
	kind, ok := s.Tree.KindOf(e.Node)
	if !ok {
		return 0, vfserr.NoSuchEntry.WithOp("read")
	}

	switch kind {
	case vfsnode.KindChannel:
		ch, err := s.channelFor(e.Node)
		if err != nil {
			return 0, err
		}
		resp, payload, err := ch.Read(ctx, p.Thread, channel.ReadRequest{Offset: e.Position, Count: len(buf), ShmOffset: ch.ShmOffsetFor(buf)})
		if err != nil {
			return 0, err
		}
		if resp.Result < 0 {
			return 0, vfserr.FromResult("read", resp.Result)
		}
		n := copy(buf, payload)
		return n, nil

	case vfsnode.KindPipe:
		return s.readPipe(ctx, p, e, buf)

	case vfsnode.KindVirtualFile:
		vf, ok := s.Tree.Payload(e.Node).(*vfsnode.VirtualFile)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("read")
		}
		data, err := vf.Render(p.PID)
		if err != nil {
			return 0, err
		}
		if e.Position >= int64(len(data)) {
			return 0, nil
		}
		n := copy(buf, data[e.Position:])
		return n, nil

	default: // regular file
		rf, ok := s.Tree.Payload(e.Node).(*vfsnode.RegularFile)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("read")
		}
		return rf.ReadAt(buf, e.Position)
	}
}

func (s *Subsystem) readPipe(ctx context.Context, p Process, e openfile.Entry, buf []byte) (int, error) {
	nonBlock := e.Flags&openfile.NoBlock != 0
	for {
		n, wouldBlock, err := s.Tree.PipeTryRead(e.Node, buf)
		if err != nil {
			return 0, err
		}
		if !wouldBlock {
			if n > 0 {
				s.Wait.Wakeup(waitq.Key{Kind: waitq.PipeFull, Object: channel.WaitObjectFor(e.Node)})
			}
			return n, nil
		}
		if nonBlock {
			return 0, vfserr.WouldBlock.WithOp("read")
		}
		if err := s.Wait.Wait(ctx, p.Thread, []waitq.Key{{Kind: waitq.PipeEmpty, Object: channel.WaitObjectFor(e.Node)}}); err != nil {
			return 0, err
		}
	}
}

// Write implements spec.md §6's write(fd, buf, n).
func (s *Subsystem) Write(ctx context.Context, p Process, fd FD, data []byte) (n int, err error) {
	ctx, done := s.signalScope(ctx, p.Thread)
	defer func() { done(&err) }()

	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return 0, vfserr.BadDescriptor.WithOp("write")
	}
	kind, ok := s.Tree.KindOf(e.Node)
	if !ok {
		return 0, vfserr.NoSuchEntry.WithOp("write")
	}

	switch kind {
	case vfsnode.KindChannel:
		ch, err := s.channelFor(e.Node)
		if err != nil {
			return 0, err
		}
		shmOffset := ch.ShmOffsetFor(data)
		wireData := data
		if shmOffset >= 0 {
			wireData = nil
		}
		resp, err := ch.Write(ctx, p.Thread, channel.WriteRequest{Offset: e.Position, Count: len(data), ShmOffset: shmOffset, Data: wireData})
		if err != nil {
			return 0, err
		}
		if resp.Result < 0 {
			return 0, vfserr.FromResult("write", resp.Result)
		}
		return int(resp.Result), nil

	case vfsnode.KindPipe:
		return s.writePipe(ctx, p, e, data)

	default:
		rf, ok := s.Tree.Payload(e.Node).(*vfsnode.RegularFile)
		if !ok {
			return 0, vfserr.InvalidArgument.WithOp("write")
		}
		n, err := rf.WriteAt(data, e.Position)
		return n, err
	}
}

func (s *Subsystem) writePipe(ctx context.Context, p Process, e openfile.Entry, data []byte) (int, error) {
	nonBlock := e.Flags&openfile.NoBlock != 0
	written := 0
	for written < len(data) {
		n, wouldBlock, err := s.Tree.PipeTryWrite(e.Node, data[written:])
		if err != nil {
			return written, err
		}
		if !wouldBlock {
			written += n
			s.Wait.Wakeup(waitq.Key{Kind: waitq.PipeEmpty, Object: channel.WaitObjectFor(e.Node)})
			continue
		}
		if nonBlock {
			if written > 0 {
				return written, nil
			}
			return 0, vfserr.WouldBlock.WithOp("write")
		}
		if err := s.Wait.Wait(ctx, p.Thread, []waitq.Key{{Kind: waitq.PipeFull, Object: channel.WaitObjectFor(e.Node)}}); err != nil {
			return written, err
		}
	}
	return written, nil
}

// CreateSibling implements spec.md's supplemented creatsibl operation:
// it asks fd's driver to materialize a new named channel alongside fd
// (e.g. a pty driver handing back the slave side of a connection) and
// returns a freshly opened descriptor for it.
func (s *Subsystem) CreateSibling(ctx context.Context, p Process, fd FD, name string) (FD, error) {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return 0, vfserr.BadDescriptor.WithOp("creatsibl")
	}
	ch, err := s.channelFor(e.Node)
	if err != nil {
		return 0, err
	}
	dh, ok := s.Tree.Payload(ch.DeviceID).(*vfsnode.DeviceHandle)
	if !ok {
		return 0, vfserr.InvalidArgument.WithOp("creatsibl")
	}
	dev, ok := dh.Impl.(*device.Device)
	if !ok {
		return 0, vfserr.InvalidArgument.WithOp("creatsibl")
	}

	sib, err := dev.CreateSibling(ctx, p.Thread, ch, name)
	if err != nil {
		return 0, err
	}
	h, err := s.Files.GetFree(p.PID, openfile.Read|openfile.Write|openfile.Msgs, sib.ID)
	if err != nil {
		return 0, err
	}
	return FD(h), nil
}

// ShFile implements spec.md §4.4's shfile(fd, path, buf): it asks fd's
// driver to map path, and on success records [base, base+len(buf)) as
// the channel's shared-memory window so later Read/Write calls whose
// buffer falls inside it travel as offset-only requests.
func (s *Subsystem) ShFile(ctx context.Context, p Process, fd FD, path string, buf []byte) (channel.ShFileResponse, error) {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return channel.ShFileResponse{}, vfserr.BadDescriptor.WithOp("shfile")
	}
	ch, err := s.channelFor(e.Node)
	if err != nil {
		return channel.ShFileResponse{}, err
	}
	if len(buf) == 0 {
		return channel.ShFileResponse{}, vfserr.InvalidArgument.WithOp("shfile")
	}
	window := channel.ShmWindow{Base: channel.AddrOf(buf), Size: uintptr(len(buf))}
	return ch.ShFile(ctx, p.Thread, channel.ShFileRequest{Path: path, Size: int64(len(buf))}, window)
}

// channelFor resolves an open-file's node to its attached
// channel.Channel.
func (s *Subsystem) channelFor(node vfsnode.ID) (*channel.Channel, error) {
	ch, ok := s.Tree.Payload(node).(*vfsnode.ChannelHandle)
	if !ok {
		return nil, vfserr.InvalidArgument.WithOp("channel")
	}
	c, ok := ch.Impl.(*channel.Channel)
	if !ok {
		return nil, vfserr.InvalidArgument.WithOp("channel")
	}
	return c, nil
}

// Seek implements spec.md §6's seek(fd, off, whence).
func (s *Subsystem) Seek(fd FD, offset int64, whence openfile.Whence) (int64, error) {
	return s.Files.Seek(openfile.Handle(fd), offset, whence, func() (int64, error) {
		e, ok := s.Files.Get(openfile.Handle(fd))
		if !ok {
			return 0, vfserr.BadDescriptor.WithOp("seek")
		}
		st, ok := s.Tree.StatOf(e.Node)
		if !ok {
			return 0, vfserr.NoSuchEntry.WithOp("seek")
		}
		return st.Size, nil
	})
}

// Stat implements spec.md §6's stat(path)/fstat(fd) pair. A path whose
// last component resolves under a foreign mount (spec.md §7's
// foreign-filesystem delegation) is answered by the mounted driver
// instead of the tree.
func (s *Subsystem) Stat(pathname string) (vfsnode.Stat, error) {
	id, err := s.Tree.Request(pathname, 0)
	if err == nil {
		defer s.Tree.Release(id)
		st, ok := s.Tree.StatOf(id)
		if !ok {
			return vfsnode.Stat{}, vfserr.NoSuchEntry.WithOp("stat")
		}
		return st, nil
	}
	if !vfserr.Is(err, vfserr.NoSuchEntry) {
		return vfsnode.Stat{}, err
	}
	dir, name := splitLast(pathname)
	parent, perr := s.Tree.Request(dir, 0)
	if perr != nil {
		return vfsnode.Stat{}, err
	}
	defer s.Tree.Release(parent)
	return s.Tree.ForeignStat(parent, name)
}

// ReadForeign reads name's full contents from the foreign driver
// mounted at dirPath, spec.md §7's delegation path for files that have
// no backing tree node to open(2) in the first place.
func (s *Subsystem) ReadForeign(dirPath, name string) ([]byte, error) {
	dir, err := s.Tree.Request(dirPath, 0)
	if err != nil {
		return nil, err
	}
	defer s.Tree.Release(dir)
	return s.Tree.ForeignRead(dir, name)
}

// MountForeign implements spec.md §7's foreign-filesystem delegation:
// driver's names are merged into dir's listing, and a stat/read that
// misses under dir falls through to driver.
func (s *Subsystem) MountForeign(dirPath string, driver vfsnode.ForeignReader) error {
	dir, err := s.Tree.Request(dirPath, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(dir)
	return s.Tree.MountForeign(dir, driver)
}

func (s *Subsystem) Fstat(fd FD) (vfsnode.Stat, error) {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return vfsnode.Stat{}, vfserr.BadDescriptor.WithOp("fstat")
	}
	st, ok := s.Tree.StatOf(e.Node)
	if !ok {
		return vfsnode.Stat{}, vfserr.NoSuchEntry.WithOp("fstat")
	}
	return st, nil
}

// Dup duplicates fd by re-acquiring the same open-file entry for the
// same owning pid (spec.md's getFree sharing rule handles the merge).
func (s *Subsystem) Dup(p Process, fd FD) (FD, error) {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return 0, vfserr.BadDescriptor.WithOp("dup")
	}
	if err := s.Tree.Hold(e.Node); err != nil {
		return 0, err
	}
	h, err := s.Files.GetFree(p.PID, e.Flags, e.Node)
	if err != nil {
		s.Tree.Release(e.Node)
		return 0, err
	}
	return FD(h), nil
}

// Fcntl implements spec.md §6's fcntl(fd, cmd, arg).
func (s *Subsystem) Fcntl(fd FD, cmd openfile.FcntlCmd, arg int) (int, error) {
	return s.Files.Fcntl(openfile.Handle(fd), cmd, arg)
}

// Mkdir implements spec.md §6's mkdir(path).
func (s *Subsystem) Mkdir(p Process, pathname string) error {
	dir, name := splitLast(pathname)
	parent, err := s.Tree.Request(dir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(parent)
	id, err := s.Tree.Create(parent, name, vfsnode.KindDir, os.ModeDir|0755, p.PID)
	if err != nil {
		return err
	}
	s.Tree.Release(id)
	return nil
}

// Rmdir implements spec.md §6's rmdir(path).
func (s *Subsystem) Rmdir(pathname string) error {
	dir, name := splitLast(pathname)
	parent, err := s.Tree.Request(dir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(parent)
	return s.Tree.Unlink(parent, name)
}

// Unlink implements spec.md §6's unlink(path).
func (s *Subsystem) Unlink(pathname string) error {
	dir, name := splitLast(pathname)
	parent, err := s.Tree.Request(dir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(parent)
	return s.Tree.Unlink(parent, name)
}

// Rename implements spec.md §6's rename(old, new).
func (s *Subsystem) Rename(oldpath, newpath string) error {
	oldDir, oldName := splitLast(oldpath)
	newDir, newName := splitLast(newpath)
	op, err := s.Tree.Request(oldDir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(op)
	np, err := s.Tree.Request(newDir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(np)
	return s.Tree.Rename(op, oldName, np, newName)
}

// Link implements spec.md §6's link(target, linkpath) as a symlink-
// style node pointing at target's resolved node, the only link kind
// vfsnode.Tree represents.
func (s *Subsystem) Link(p Process, target, linkpath string) error {
	targetID, err := s.Tree.Request(target, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(targetID)

	dir, name := splitLast(linkpath)
	parent, err := s.Tree.Request(dir, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(parent)

	id, err := s.Tree.Create(parent, name, vfsnode.KindLink, 0777, p.PID)
	if err != nil {
		return err
	}
	return s.Tree.AttachLink(id, targetID)
}

// Chmod/Chown/Utime implement spec.md §6's metadata syscalls.
func (s *Subsystem) Chmod(pathname string, mode os.FileMode) error {
	id, err := s.Tree.Request(pathname, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(id)
	return s.Tree.SetMode(id, mode)
}

func (s *Subsystem) Chown(pathname string, owner int) error {
	id, err := s.Tree.Request(pathname, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(id)
	return s.Tree.SetOwner(id, owner)
}

func (s *Subsystem) Utime(pathname string, mtime int64) error {
	id, err := s.Tree.Request(pathname, 0)
	if err != nil {
		return err
	}
	defer s.Tree.Release(id)
	return s.Tree.SetTimes(id, 0, mtime)
}

// SignalHandler implements spec.md §4.6's signal(sig, handler) syscall:
// it installs handler (or clears it, if nil) as tid's action for sig.
func (s *Subsystem) SignalHandler(tid waitq.ThreadID, sig int, handler signal.Handler) {
	s.Signals.Register(tid, sig, handler)
}

// Kill implements spec.md §4.6's kill(tid, sig) syscall: it delivers sig
// to tid via SignalTarget.Raise, interrupting tid's in-progress Read or
// Write, if any.
func (s *Subsystem) Kill(tid waitq.ThreadID, sig int) error {
	return s.Raise(tid, sig)
}

// Pipe implements spec.md §6's pipe(&r, &w): one KindPipe node backs
// both ends, opened twice with complementary access flags.
func (s *Subsystem) Pipe(p Process, dir vfsnode.ID) (readFD, writeFD FD, err error) {
	id, err := s.Tree.Create(dir, pipeName(p), vfsnode.KindPipe, 0600, p.PID)
	if err != nil {
		return 0, 0, err
	}
	if err := s.Tree.Attach(id, vfsnode.NewPipeRing(s.cfg.PipeCapacity)); err != nil {
		return 0, 0, err
	}
	rh, err := s.Files.GetFree(p.PID, openfile.Read, id)
	if err != nil {
		return 0, 0, err
	}
	// The read end's GetFree adopted Create's reference; the write end
	// needs a reference of its own, since its access set differs and it
	// will land in a distinct entry.
	if err := s.Tree.Hold(id); err != nil {
		s.Files.Close(rh)
		return 0, 0, err
	}
	wh, err := s.Files.GetFree(p.PID, openfile.Write, id)
	if err != nil {
		s.Tree.Release(id)
		s.Files.Close(rh)
		return 0, 0, err
	}
	return FD(rh), FD(wh), nil
}

func pipeName(p Process) string {
	return "pipe." + itoaPID(p.PID) + "." + itoaPID(int(p.Thread))
}

// Send implements spec.md §6's send(fd, msgid, buf, n): a raw message
// push on a channel open-file, bypassing the typed request/response
// helpers in package channel for drivers exchanging ad hoc payloads.
func (s *Subsystem) Send(fd FD, requestID uint32, data []byte) error {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return vfserr.BadDescriptor.WithOp("send")
	}
	ch, err := s.channelFor(e.Node)
	if err != nil {
		return err
	}
	if e.Flags&openfile.DeviceRole != 0 {
		ch.PushResponse(channel.Message{RequestID: requestID, Payload: data})
	} else {
		ch.PushToDriver(channel.Message{RequestID: requestID, Payload: data})
	}
	return nil
}

// Receive implements spec.md §6's receive(fd, &msgid, buf, n): a raw
// blocking pop matching msgid, for drivers and clients exchanging ad
// hoc payloads outside the typed helpers.
func (s *Subsystem) Receive(ctx context.Context, p Process, fd FD, requestID uint32, buf []byte) (uint32, int, error) {
	e, ok := s.Files.Get(openfile.Handle(fd))
	if !ok {
		return 0, 0, vfserr.BadDescriptor.WithOp("receive")
	}
	ch, err := s.channelFor(e.Node)
	if err != nil {
		return 0, 0, err
	}
	msg, err := ch.Receive(ctx, p.Thread, requestID)
	if err != nil {
		return 0, 0, err
	}
	n := copy(buf, msg.Payload)
	return msg.RequestID, n, nil
}
