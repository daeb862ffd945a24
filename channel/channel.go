// Package channel implements the channel endpoint from spec.md §4.4: the
// typed message pipe between a client open-file and the device that
// backs it. It is grounded on source/kernel/src/vfs/channel.cc — the
// nonce-tagged request ids, the shared-memory fast path for large
// buffers, and the cancel-then-re-receive dance used when a blocked
// receive must be abandoned without losing a response that was already
// in flight — translated onto the wait table in package waitq in place
// of channel.cc's direct use of the thread's own Event.
package channel

import (
	"context"
	"sync/atomic"

	"github.com/jacobsa/reqtrace"

	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
	"github.com/kyrios-os/vfscore/waitq"
)

// CapabilityChecker lets a Channel ask its device whether a given
// message kind is supported, per spec.md §4.4's capability mask gating
// (an unsupported kind fails with NotSupported before it is enqueued; a
// driver without cancel support has its requests ride out caller
// cancellation rather than being cancelled).
type CapabilityChecker interface {
	Supports(kind MessageKind) bool
}

// Channel is one client's end of a device connection. A Channel's node
// id (through WaitObjectFor) is the waitq.Object its MessageReceived
// waits key off; ClientArrived waits key off the owning device's id.
type Channel struct {
	bus  *Bus
	tree *vfsnode.Tree

	ID        vfsnode.ID
	DeviceID  vfsnode.ID
	ClientPID int
	Caps      CapabilityChecker

	nonce uint32 // atomic counter, wrapped into [1, 0x7fff]

	// send is driver-bound (client -> driver), recv is client-bound
	// (driver -> client). Both are guarded by bus.Mu, the same lock
	// guarding the wait table, per spec.md §5: "A separate lock guards
	// channel message lists" which in this implementation is the wait
	// lock shared with every other channel and with the device pool.
	send []Message
	recv []Message

	shm *ShmWindow

	unused     bool // fcntl SET_UNUSED: driver has disowned this descriptor
	clientGone bool // client closed its end; later client requests fail with Destroyed
	driverGone bool // driver closed the device; client ops now see Destroyed
}

// SetUnused implements the unusedSetter interface openfile.Table.Fcntl
// looks for via duck typing.
func (c *Channel) SetUnused() {
	c.bus.Mu.Lock()
	c.unused = true
	c.bus.Mu.Unlock()
}

// New constructs a client-facing Channel bound to a device.
func New(bus *Bus, tree *vfsnode.Tree, id, deviceID vfsnode.ID, clientPID int, caps CapabilityChecker) *Channel {
	return &Channel{bus: bus, tree: tree, ID: id, DeviceID: deviceID, ClientPID: clientPID, Caps: caps, nonce: 0}
}

func (c *Channel) nextNonce() uint16 {
	for {
		n := atomic.AddUint32(&c.nonce, 1) & 0x7fff
		if n != 0 {
			return uint16(n)
		}
	}
}

// WaitObjectFor maps a node id onto a waitq.Object by hashing its
// stable String() form, since vfsnode.ID's fields are unexported.
// Exported so package device can key its own ClientArrived waits on a
// device node id using the exact same mapping channels use.
func WaitObjectFor(id vfsnode.ID) waitq.Object {
	return waitq.Object(fnv64(id.String()))
}

func fnv64(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// sendLocked appends msg to the driver-bound queue (toDriver) or to the
// client-bound queue. It wakes nobody: PushToDriver and PushResponse do
// that after releasing Bus.Mu. Caller holds Bus.Mu.
func (c *Channel) sendLocked(toDriver bool, msg Message) {
	if toDriver {
		c.send = append(c.send, msg)
	} else {
		c.recv = append(c.recv, msg)
	}
}

// PushToDriver enqueues a client request for the device to pick up via
// Device.GetWork, then wakes every thread waiting on the device's
// ClientArrived event.
func (c *Channel) PushToDriver(msg Message) {
	c.bus.Mu.Lock()
	c.sendLocked(true, msg)
	c.bus.Mu.Unlock()
	c.bus.Wait.Wakeup(waitq.Key{Kind: waitq.ClientArrived, Object: WaitObjectFor(c.DeviceID)})
}

// PopFromDriverLocked removes and returns the oldest driver-bound
// message, for use by Device.GetWork while already holding Bus.Mu.
func (c *Channel) PopFromDriverLocked() (Message, bool) {
	if len(c.send) == 0 {
		return Message{}, false
	}
	msg := c.send[0]
	c.send = c.send[1:]
	return msg, true
}

// PendingToDriverLocked reports whether this channel has driver-bound
// work, for Device.GetWork's round-robin scan.
func (c *Channel) PendingToDriverLocked() bool {
	return len(c.send) > 0
}

// PushResponse is called by the driver side (package device) to deliver
// a reply or an unsolicited broadcast back to the client.
func (c *Channel) PushResponse(msg Message) {
	c.bus.Mu.Lock()
	c.sendLocked(false, msg)
	c.bus.Mu.Unlock()
	c.bus.Wait.Wakeup(waitq.Key{Kind: waitq.MessageReceived, Object: WaitObjectFor(c.ID)})
}

// Receive blocks until a response matching requestID arrives on recv
// (or, if requestID's nonce is zero, until any broadcast arrives), per
// spec.md §4.4's matching rule: "the first entry whose id matches the
// requested id, or whose nonce is zero". Returns vfserr.Destroyed if the
// driver has gone away with no matching message pending, vfserr.NoClient
// is the caller's own lookup error, not raised here.
func (c *Channel) Receive(ctx context.Context, tid waitq.ThreadID, requestID uint32) (Message, error) {
	ctx, report := reqtrace.StartSpan(ctx, "channel.Receive")
	defer func() { report(nil) }()

	object := WaitObjectFor(c.ID)
	for {
		c.bus.Mu.Lock()
		if msg, ok := c.popMatchingLocked(requestID); ok {
			c.bus.Mu.Unlock()
			return msg, nil
		}
		if c.driverGone {
			c.bus.Mu.Unlock()
			return Message{}, vfserr.Destroyed.WithOp("receive")
		}
		c.bus.Mu.Unlock()

		err := c.bus.Wait.Wait(ctx, tid, []waitq.Key{{Kind: waitq.MessageReceived, Object: object}})
		if err != nil {
			return Message{}, err
		}
	}
}

func (c *Channel) popMatchingLocked(requestID uint32) (Message, bool) {
	wantBroadcast := uint16(requestID>>16) == 0
	for i, m := range c.recv {
		if m.RequestID == requestID || (wantBroadcast && m.IsBroadcast()) {
			c.recv = append(c.recv[:i], c.recv[i+1:]...)
			return m, true
		}
	}
	return Message{}, false
}

// request is the shared client-side request/response cycle every
// typed call below funnels through: build a request id, enqueue it for
// the driver, block for the matching response.
func (c *Channel) request(ctx context.Context, tid waitq.ThreadID, kind MessageKind, payload []byte) (Message, error) {
	if c.Caps != nil && !c.Caps.Supports(kind) {
		return Message{}, vfserr.NotSupported.WithOp(kind.String())
	}
	c.bus.Mu.Lock()
	if c.driverGone || c.clientGone {
		c.bus.Mu.Unlock()
		return Message{}, vfserr.Destroyed.WithOp(kind.String())
	}
	c.bus.Mu.Unlock()

	nonce := c.nextNonce()
	id := buildID(nonce, kind)
	responseID := buildID(nonce, kind.Response())
	c.PushToDriver(Message{RequestID: id, Payload: payload})

	if !c.cancelSupported() {
		// A driver that never implements cancel cannot safely have its
		// in-flight request abandoned: there would be no way to tell it
		// to stop, and a later reply would arrive with nobody left to
		// receive it. Such a request rides out ctx cancellation to real
		// completion instead of surfacing vfserr.Interrupted.
		return c.Receive(context.Background(), tid, responseID)
	}

	msg, err := c.Receive(ctx, tid, responseID)
	if err == nil || !vfserr.Is(err, vfserr.Interrupted) {
		return msg, err
	}

	// ctx was cancelled while this request was outstanding on a driver
	// that does support cancel: issue a cancel for it and, per spec.md
	// §4.4/§5, if the driver had already completed the original request
	// before the cancel reached it, re-enter Receive with signals
	// suppressed (context.Background) to collect that reply instead of
	// losing it.
	if kind == KindCancel {
		return Message{}, err
	}
	cresp, cerr := c.Cancel(context.Background(), tid, id)
	switch {
	case cerr != nil:
		return Message{}, err
	case cresp.Result == 1:
		return c.Receive(context.Background(), tid, responseID)
	case cresp.Result < 0:
		return Message{}, vfserr.FromResult(kind.String(), cresp.Result)
	default:
		return Message{}, err
	}
}

func (c *Channel) cancelSupported() bool {
	if c.Caps == nil {
		return true
	}
	return c.Caps.Supports(KindCancel)
}

// Open sends an open request and waits for the driver's reply.
func (c *Channel) Open(ctx context.Context, tid waitq.ThreadID, req OpenRequest) (OpenResponse, error) {
	resp, err := c.request(ctx, tid, KindOpen, encode(req))
	if err != nil {
		return OpenResponse{}, err
	}
	var out OpenResponse
	if err := decode(resp.Payload, &out); err != nil {
		return OpenResponse{}, vfserr.Fault.WithOp("open")
	}
	return out, nil
}

// Read sends a read request and waits for the driver's reply.
func (c *Channel) Read(ctx context.Context, tid waitq.ThreadID, req ReadRequest) (ReadResponse, []byte, error) {
	resp, err := c.request(ctx, tid, KindRead, encode(req))
	if err != nil {
		return ReadResponse{}, nil, err
	}
	var out ReadResponse
	if err := decode(resp.Payload, &out); err != nil {
		return ReadResponse{}, nil, vfserr.Fault.WithOp("read")
	}
	return out, out.Data, nil
}

// Write sends a write request and waits for the driver's reply.
func (c *Channel) Write(ctx context.Context, tid waitq.ThreadID, req WriteRequest) (WriteResponse, error) {
	resp, err := c.request(ctx, tid, KindWrite, encode(req))
	if err != nil {
		return WriteResponse{}, err
	}
	var out WriteResponse
	if err := decode(resp.Payload, &out); err != nil {
		return WriteResponse{}, vfserr.Fault.WithOp("write")
	}
	return out, nil
}

// Close sends a close request and waits for the driver's reply, then
// marks this end as gone so any later client op fails with Destroyed
// rather than reaching the driver again. This is the client-closes-
// last-ref leg of spec.md §4.4's Active -> Closing transition.
func (c *Channel) Close(ctx context.Context, tid waitq.ThreadID) (CloseResponse, error) {
	resp, err := c.request(ctx, tid, KindClose, encode(CloseRequest{}))
	defer c.MarkClientGone()
	if err != nil {
		return CloseResponse{}, err
	}
	var out CloseResponse
	if err := decode(resp.Payload, &out); err != nil {
		return CloseResponse{}, vfserr.Fault.WithOp("close")
	}
	return out, nil
}

// Stat sends a stat request and waits for the driver's reply.
func (c *Channel) Stat(ctx context.Context, tid waitq.ThreadID) (StatResponse, error) {
	resp, err := c.request(ctx, tid, KindStat, encode(StatRequest{}))
	if err != nil {
		return StatResponse{}, err
	}
	var out StatResponse
	if err := decode(resp.Payload, &out); err != nil {
		return StatResponse{}, vfserr.Fault.WithOp("stat")
	}
	return out, nil
}

// ShFile establishes the shared-memory fast path.
func (c *Channel) ShFile(ctx context.Context, tid waitq.ThreadID, req ShFileRequest, window ShmWindow) (ShFileResponse, error) {
	resp, err := c.request(ctx, tid, KindShFile, encode(req))
	if err != nil {
		return ShFileResponse{}, err
	}
	var out ShFileResponse
	if err := decode(resp.Payload, &out); err != nil {
		return ShFileResponse{}, vfserr.Fault.WithOp("shfile")
	}
	if out.Result >= 0 {
		c.bus.Mu.Lock()
		c.shm = &window
		c.bus.Mu.Unlock()
	}
	return out, nil
}

// CreateSibling asks the driver to create a named sibling device node.
func (c *Channel) CreateSibling(ctx context.Context, tid waitq.ThreadID, req CreateSiblingRequest) (CreateSiblingResponse, error) {
	resp, err := c.request(ctx, tid, KindCreateSibling, encode(req))
	if err != nil {
		return CreateSiblingResponse{}, err
	}
	var out CreateSiblingResponse
	if err := decode(resp.Payload, &out); err != nil {
		return CreateSiblingResponse{}, vfserr.Fault.WithOp("creatsibl")
	}
	return out, nil
}

// Cancel implements spec.md §4.4's cancel-then-re-receive pattern: it
// sends a cancel request for targetID and blocks for its response on the
// ctx it is given (request passes context.Background, so this wait is
// not interrupted). A CancelResponse.Result of
// 1 means the original request had already completed; the caller must
// call Receive again for targetID to pick up that original response
// instead of losing it.
func (c *Channel) Cancel(ctx context.Context, tid waitq.ThreadID, targetID uint32) (CancelResponse, error) {
	resp, err := c.request(ctx, tid, KindCancel, encode(CancelRequest{TargetRequestID: targetID}))
	if err != nil {
		return CancelResponse{}, err
	}
	var out CancelResponse
	if err := decode(resp.Payload, &out); err != nil {
		return CancelResponse{}, vfserr.Fault.WithOp("cancel")
	}
	return out, nil
}

// MarkDriverGone flips this channel into the permanently-failed state
// spec.md §8 scenario 3 describes: every blocked or future client op
// fails with Destroyed rather than hanging, and every waiter on this
// channel's MessageReceived event is released to observe it.
func (c *Channel) MarkDriverGone() {
	c.bus.Mu.Lock()
	c.driverGone = true
	c.bus.Mu.Unlock()
	c.bus.Wait.Wakeup(waitq.Key{Kind: waitq.MessageReceived, Object: WaitObjectFor(c.ID)})
}

// MarkClientGone records that the client has closed its end: later
// client requests on this channel fail with Destroyed. GetWork does not
// consult it; messages already queued are still handed to the driver.
func (c *Channel) MarkClientGone() {
	c.bus.Mu.Lock()
	c.clientGone = true
	c.bus.Mu.Unlock()
}

func (c *Channel) ClientGoneLocked() bool { return c.clientGone }
