package vfscore_test

import (
	"context"
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/device"
	"github.com/kyrios-os/vfscore/openfile"
	"github.com/kyrios-os/vfscore/samples/echodev"
	"github.com/kyrios-os/vfscore/vfscore"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
)

func TestIntegration(t *testing.T) { RunTests(t) }

type IntegrationTest struct {
	sub *vfscore.Subsystem
}

func init() { RegisterTestSuite(&IntegrationTest{}) }

func (t *IntegrationTest) SetUp(ti *TestInfo) {
	t.sub = vfscore.New(vfscore.Config{})
}

// TestEchoDeviceFullCycle exercises open/write/read/close against a
// running driver, the end-to-end scenario a client of this subsystem
// actually drives.
func (t *IntegrationTest) TestEchoDeviceFullCycle() {
	dev, err := t.sub.RegisterDevice(t.sub.Tree.Root(), "echo", echodev.Capabilities)
	AssertEq(nil, err)
	driver := echodev.New(dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Serve(ctx, 999)

	p := vfscore.Process{Thread: 1, PID: 1}
	fd, err := t.sub.Open(ctx, p, "/echo", 0, openfile.Read|openfile.Write)
	AssertEq(nil, err)

	n, err := t.sub.Write(ctx, p, fd, []byte("hello"))
	AssertEq(nil, err)
	ExpectEq(5, n)

	buf := make([]byte, 16)
	n, err = t.sub.Read(ctx, p, fd, buf)
	AssertEq(nil, err)
	AssertEq(5, n)
	ExpectEq("hello", string(buf[:n]))

	AssertEq(nil, t.sub.Close(ctx, p, fd))
}

// TestCloseSendsCloseMessageToDriver drives the open/close handshake by
// hand, without a running Driver.Serve loop, so it can assert directly
// that Subsystem.Close's last-ref path actually reaches the driver as a
// KindClose message rather than just freeing the local open-file entry.
func (t *IntegrationTest) TestCloseSendsCloseMessageToDriver() {
	dev, err := t.sub.RegisterDevice(t.sub.Tree.Root(), "closer", echodev.Capabilities)
	AssertEq(nil, err)

	openErr := make(chan error, 1)
	go func() {
		msg, ch, err := dev.GetWork(context.Background(), 4)
		if err != nil {
			openErr <- err
			return
		}
		dev.Reply(ch, channel.Message{
			RequestID: uint32(msg.Nonce())<<16 | uint32(channel.KindOpen.Response()),
			Payload:   channel.Encode(channel.OpenResponse{Result: 0}),
		})
		openErr <- nil
	}()

	p := vfscore.Process{Thread: 3, PID: 3}
	ctx := context.Background()
	fd, err := t.sub.Open(ctx, p, "/closer", 0, openfile.Read|openfile.Write)
	AssertEq(nil, err)
	AssertEq(nil, <-openErr)

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- t.sub.Close(ctx, p, fd)
	}()

	msg, ch, err := dev.GetWork(context.Background(), 4)
	AssertEq(nil, err)
	ExpectEq(channel.KindClose, msg.Kind())
	dev.Reply(ch, channel.Message{
		RequestID: uint32(msg.Nonce())<<16 | uint32(channel.KindClose.Response()),
		Payload:   channel.Encode(channel.CloseResponse{Result: 0}),
	})

	AssertEq(nil, <-closeDone)
}

// TestNonBlockingEmptyPipeRead covers a non-blocking read on a pipe
// with nothing written yet.
func (t *IntegrationTest) TestNonBlockingEmptyPipeRead() {
	id, err := t.sub.Tree.Create(t.sub.Tree.Root(), "p", vfsnode.KindPipe, 0600, 0)
	AssertEq(nil, err)
	AssertEq(nil, t.sub.Tree.Attach(id, vfsnode.NewPipeRing(64)))

	p := vfscore.Process{Thread: 1, PID: 1}
	h, err := t.sub.Files.GetFree(p.PID, openfile.Read|openfile.NoBlock, id)
	AssertEq(nil, err)
	fd := vfscore.FD(h)

	buf := make([]byte, 8)
	_, err = t.sub.Read(context.Background(), p, fd, buf)
	AssertTrue(err != nil)
	ExpectTrue(vfserr.Is(err, vfserr.WouldBlock))
}

// TestClosedPeerSurfacesDestroyed covers the case where a device's
// driver is gone: a client read issued after the driver shut down
// observes Destroyed instead of hanging.
func (t *IntegrationTest) TestClosedPeerSurfacesDestroyed() {
	dev, err := t.sub.RegisterDevice(t.sub.Tree.Root(), "gone", echodev.Capabilities)
	AssertEq(nil, err)
	driver := echodev.New(dev)

	ctx, cancel := context.WithCancel(context.Background())
	go driver.Serve(ctx, 998)

	p := vfscore.Process{Thread: 1, PID: 1}
	fd, err := t.sub.Open(ctx, p, "/gone", 0, openfile.Read|openfile.Write)
	AssertEq(nil, err)

	cancel()
	AssertEq(nil, dev.Shutdown(context.Background()))

	buf := make([]byte, 8)
	_, err = t.sub.Read(context.Background(), p, fd, buf)
	AssertTrue(err != nil)
	ExpectTrue(vfserr.Is(err, vfserr.Destroyed))
}

// TestSignalDuringReadOnNonCancelDriverRidesOutCancellation covers a
// driver that declares no cancel capability: it must still deliver its
// eventual reply rather than have the read aborted out from under it.
func (t *IntegrationTest) TestSignalDuringReadOnNonCancelDriverRidesOutCancellation() {
	dev, err := t.sub.RegisterDevice(t.sub.Tree.Root(), "slow", device.CapOpen|device.CapRead|device.CapWrite|device.CapClose)
	AssertEq(nil, err)

	// Service the open handshake before the client's Open call returns,
	// since this driver never implements cancel either.
	openWorkErr := make(chan error, 1)
	go func() {
		msg, ch, err := dev.GetWork(context.Background(), 2)
		if err != nil {
			openWorkErr <- err
			return
		}
		dev.Reply(ch, channel.Message{
			RequestID: uint32(msg.Nonce())<<16 | uint32(channel.KindOpen.Response()),
			Payload:   channel.Encode(channel.OpenResponse{Result: 0}),
		})
		openWorkErr <- nil
	}()

	p := vfscore.Process{Thread: 1, PID: 1}
	ctx := context.Background()
	fd, err := t.sub.Open(ctx, p, "/slow", 0, openfile.Read|openfile.Write)
	AssertEq(nil, err)
	AssertEq(nil, <-openWorkErr)

	readCtx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := t.sub.Read(readCtx, p, fd, buf)
		result <- err
	}()

	msg, ch, err := dev.GetWork(context.Background(), 2)
	AssertEq(nil, err)
	cancel()

	dev.Reply(ch, channel.Message{
		RequestID: uint32(msg.Nonce())<<16 | uint32(channel.KindRead.Response()),
		Payload:   channel.Encode(channel.ReadResponse{Result: 4, Data: []byte("data")}),
	})

	var readErr error
	var timedOut bool
	select {
	case readErr = <-result:
	case <-time.After(2 * time.Second):
		timedOut = true
	}
	AssertFalse(timedOut, "read did not complete after the driver's reply was delivered")
	AssertEq(nil, readErr)
}

// TestDirectoryListingWireFormat covers the on-wire encoding for a
// directory's entries.
func (t *IntegrationTest) TestDirectoryListingWireFormat() {
	dir := t.sub.Tree.Root()
	id, err := t.sub.Tree.Create(dir, "one", vfsnode.KindFile, 0644, 0)
	AssertEq(nil, err)
	t.sub.Tree.Release(id)

	entries, release, err := t.sub.Tree.OpenDir(dir)
	AssertEq(nil, err)
	defer release()

	encoded := vfsnode.EncodeDirents(entries)
	ExpectTrue(len(encoded) > 0)
}

// TestExclusiveOpenConflict covers the exclusive-open sharing rule at
// the subsystem level.
func (t *IntegrationTest) TestExclusiveOpenConflict() {
	id, err := t.sub.Tree.Create(t.sub.Tree.Root(), "excl", vfsnode.KindFile, 0644, 0)
	AssertEq(nil, err)
	t.sub.Tree.Release(id)

	p1 := vfscore.Process{Thread: 1, PID: 1}
	fd1, err := t.sub.Open(context.Background(), p1, "/excl", 0, openfile.Read)
	AssertEq(nil, err)
	defer t.sub.Close(context.Background(), p1, fd1)

	p2 := vfscore.Process{Thread: 2, PID: 2}
	_, err = t.sub.Open(context.Background(), p2, "/excl", 0, openfile.Read|openfile.Exclusive)
	AssertTrue(err != nil)
	ExpectTrue(vfserr.Is(err, vfserr.Busy))
}
