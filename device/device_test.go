package device_test

import (
	"context"
	"sync"
	"testing"

	. "github.com/jacobsa/ogletest"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/device"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
	"github.com/kyrios-os/vfscore/waitq"
)

func TestDevice(t *testing.T) { RunTests(t) }

// gateScheduler is the lazily-created-binary-semaphore Scheduler used in
// package vfscore, reimplemented locally to keep this package's tests
// independent of it.
type gateScheduler struct {
	mu    sync.Mutex
	gates map[waitq.ThreadID]chan struct{}
}

func newGateScheduler() *gateScheduler {
	return &gateScheduler{gates: make(map[waitq.ThreadID]chan struct{})}
}

func (s *gateScheduler) gate(tid waitq.ThreadID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[tid]
	if !ok {
		g = make(chan struct{}, 1)
		s.gates[tid] = g
	}
	return g
}

func (s *gateScheduler) Block(ctx context.Context, tid waitq.ThreadID) bool {
	select {
	case <-s.gate(tid):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *gateScheduler) Unblock(tid waitq.ThreadID) {
	g := s.gate(tid)
	select {
	case g <- struct{}{}:
	default:
	}
}

type DeviceTest struct {
	tree *vfsnode.Tree
	bus  *channel.Bus
	dev  *device.Device
	devID vfsnode.ID
}

func init() { RegisterTestSuite(&DeviceTest{}) }

func (t *DeviceTest) SetUp(ti *TestInfo) {
	t.tree = vfsnode.New(nil, 16)
	wait := waitq.New(64, newGateScheduler(), nil)
	t.bus = channel.NewBus(wait)

	devID, err := t.tree.Create(t.tree.Root(), "dev", vfsnode.KindDevice, 0755, 0)
	AssertEq(nil, err)
	t.devID = devID
	t.dev = device.New(t.bus, t.tree, devID, device.CapOpen|device.CapRead|device.CapWrite|device.CapClose, nil)
}

func (t *DeviceTest) newChannel(name string, pid int) *channel.Channel {
	id, err := t.tree.Create(t.devID, name, vfsnode.KindChannel, 0600, 0)
	AssertEq(nil, err)
	ch := channel.New(t.bus, t.tree, id, t.devID, pid, t.dev)
	t.dev.AddChannel(ch)
	return ch
}

func (t *DeviceTest) TestGetWorkReturnsPendingMessage() {
	ch := t.newChannel("c1", 1)
	ch.PushToDriver(channel.Message{RequestID: 0x00010001, Payload: []byte("x")})

	msg, got, err := t.dev.GetWork(context.Background(), 1)
	AssertEq(nil, err)
	ExpectEq(ch, got)
	ExpectEq(uint32(0x00010001), msg.RequestID)
}

func (t *DeviceTest) TestGetWorkRotatesAcrossClients() {
	a := t.newChannel("a", 1)
	b := t.newChannel("b", 2)
	a.PushToDriver(channel.Message{RequestID: 1})
	b.PushToDriver(channel.Message{RequestID: 2})

	_, first, err := t.dev.GetWork(context.Background(), 1)
	AssertEq(nil, err)

	// Both channels had pending work; the first pickup should not starve
	// the second indefinitely. Confirm the channel that was NOT picked
	// first is served next, matching Device.getWork's fairness guarantee.
	var notFirst *channel.Channel
	if first == a {
		notFirst = b
	} else {
		notFirst = a
	}
	_, second, err := t.dev.GetWork(context.Background(), 1)
	AssertEq(nil, err)
	ExpectEq(notFirst, second)
}

func (t *DeviceTest) TestShutdownReleasesBlockedReceive() {
	ch := t.newChannel("c", 1)

	result := make(chan error, 1)
	go func() {
		_, err := ch.Receive(context.Background(), 5, 0x00018001)
		result <- err
	}()

	// Give Receive a chance to register its wait before tearing down.
	for t.bus.Wait.Len() == 0 {
	}
	AssertEq(nil, t.dev.Shutdown(context.Background()))
	err := <-result
	ExpectTrue(vfserr.Is(err, vfserr.Destroyed))
}

func (t *DeviceTest) TestRemoveChannelDropsItFromRoundRobin() {
	a := t.newChannel("a", 1)
	b := t.newChannel("b", 2)
	t.dev.RemoveChannel(a)

	b.PushToDriver(channel.Message{RequestID: 9})
	_, got, err := t.dev.GetWork(context.Background(), 1)
	AssertEq(nil, err)
	ExpectEq(b, got)
}

// TestCreateSiblingAttachesChannelUnderDevice covers the pty-style
// "hand back a second channel" path: the driver acks a creatsibl request
// and the new channel must show up as a KindChannel node under the same
// device, joining GetWork's round-robin pool.
func (t *DeviceTest) TestCreateSiblingAttachesChannelUnderDevice() {
	dev := device.New(t.bus, t.tree, t.devID, device.CapOpen|device.CapRead|device.CapWrite|device.CapClose|device.CapCreateSibling, nil)
	via := channel.New(t.bus, t.tree, mustCreateChannelNode(t, "master", 1), t.devID, 1, dev)
	dev.AddChannel(via)

	reqName := make(chan string, 1)
	go func() {
		msg := popWhenPending(t.bus, via)
		var req channel.CreateSiblingRequest
		AssertEq(nil, channel.Decode(msg.Payload, &req))
		reqName <- req.Name
		dev.Reply(via, channel.Message{
			RequestID: uint32(msg.Nonce())<<16 | uint32(channel.KindCreateSibling.Response()),
			Payload:   channel.Encode(channel.CreateSiblingResponse{Result: 0}),
		})
	}()

	sib, err := dev.CreateSibling(context.Background(), 1, via, "slave")
	AssertEq(nil, err)
	ExpectEq("slave", <-reqName)

	kind, ok := t.tree.KindOf(sib.ID)
	AssertTrue(ok)
	ExpectEq(vfsnode.KindChannel, kind)
	parent, ok := t.tree.ParentOf(sib.ID)
	AssertTrue(ok)
	ExpectEq(t.devID, parent)

	// The new channel must be visible to future GetWork scans.
	sib.PushToDriver(channel.Message{RequestID: 0x00020001})
	_, got, err := dev.GetWork(context.Background(), 1)
	AssertEq(nil, err)
	ExpectEq(sib, got)
}

func mustCreateChannelNode(t *DeviceTest, name string, pid int) vfsnode.ID {
	id, err := t.tree.Create(t.devID, name, vfsnode.KindChannel, 0600, pid)
	AssertEq(nil, err)
	return id
}

// popWhenPending busy-waits for ch to have a driver-bound message and
// returns it, mirroring Device.GetWork picking up one message.
func popWhenPending(bus *channel.Bus, ch *channel.Channel) channel.Message {
	for {
		bus.Mu.Lock()
		msg, ok := ch.PopFromDriverLocked()
		bus.Mu.Unlock()
		if ok {
			return msg
		}
	}
}
