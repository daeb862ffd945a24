// Package echodev is a minimal device driver exercising the whole
// open/write/read/close cycle end to end, in the spirit of
// samples/hellofs: a fixed, tiny behavior implemented
// against the public surface a real out-of-process driver would use,
// runnable as a goroutine against an in-process Subsystem instead of
// a mounted fuse.Connection.
//
// Each client channel gets its own byte buffer. A write replies with
// the number of bytes accepted and remembers them; a subsequent read
// replies with whatever was last written.
package echodev

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/device"
	"github.com/kyrios-os/vfscore/waitq"

	"context"
)

// Capabilities is the mask Subsystem.RegisterDevice should register
// this driver's device node with.
const Capabilities = device.CapOpen | device.CapRead | device.CapWrite | device.CapClose

// Driver is an echo device: open|read|write|close, per spec.md §8
// scenario 1.
type Driver struct {
	dev *device.Device

	mu      sync.Mutex
	buffers map[*channel.Channel][]byte
}

// New wraps dev, the device.Device a Subsystem.RegisterDevice call
// already created, as a running echo driver.
func New(dev *device.Device) *Driver {
	return &Driver{dev: dev, buffers: make(map[*channel.Channel][]byte)}
}

// Serve runs the driver's work loop until ctx is cancelled, which makes
// GetWork return an error. Device.Shutdown alone does not stop it:
// GetWork keeps waiting for new work. Intended to run in its own
// goroutine, one per registered device, mirroring helloFS.serve reading
// fuse.Connection.ReadOp in a loop.
func (d *Driver) Serve(ctx context.Context, tid waitq.ThreadID) error {
	for {
		msg, ch, err := d.dev.GetWork(ctx, tid)
		if err != nil {
			return err
		}
		d.dispatch(ch, msg)
	}
}

func (d *Driver) dispatch(ch *channel.Channel, msg channel.Message) {
	switch msg.Kind() {
	case channel.KindOpen:
		d.handleOpen(ch, msg)
	case channel.KindRead:
		d.handleRead(ch, msg)
	case channel.KindWrite:
		d.handleWrite(ch, msg)
	case channel.KindClose:
		d.handleClose(ch, msg)
	default:
		d.reply(ch, msg, channel.OpenResponse{Result: -int32(unix.ENOTSUP)})
	}
}

func (d *Driver) handleOpen(ch *channel.Channel, msg channel.Message) {
	d.mu.Lock()
	d.buffers[ch] = nil
	d.mu.Unlock()
	d.reply(ch, msg, channel.OpenResponse{Result: 0})
}

func (d *Driver) handleWrite(ch *channel.Channel, msg channel.Message) {
	var req channel.WriteRequest
	if err := channel.Decode(msg.Payload, &req); err != nil {
		d.reply(ch, msg, channel.WriteResponse{Result: -int32(unix.EINVAL)})
		return
	}

	d.mu.Lock()
	d.buffers[ch] = append([]byte(nil), req.Data...)
	d.mu.Unlock()

	d.reply(ch, msg, channel.WriteResponse{Result: int32(len(req.Data))})
}

func (d *Driver) handleRead(ch *channel.Channel, msg channel.Message) {
	d.mu.Lock()
	data := d.buffers[ch]
	d.mu.Unlock()

	d.reply(ch, msg, channel.ReadResponse{Result: int32(len(data)), Data: data})
}

func (d *Driver) handleClose(ch *channel.Channel, msg channel.Message) {
	d.mu.Lock()
	delete(d.buffers, ch)
	d.mu.Unlock()
	d.reply(ch, msg, channel.WriteResponse{Result: 0})
	d.dev.ClientRemoved(ch)
}

func (d *Driver) reply(ch *channel.Channel, msg channel.Message, payload any) {
	d.dev.Reply(ch, channel.Message{RequestID: responseID(msg), Payload: channel.Encode(payload)})
}

func responseID(msg channel.Message) uint32 {
	return uint32(msg.Nonce())<<16 | uint32(msg.Kind().Response())
}
