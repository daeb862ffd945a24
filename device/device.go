// Package device implements the device node from spec.md §4.5: the
// driver-facing side of a set of channels, round-robin work pickup
// across its clients, and capability-mask gating of which message kinds
// a driver accepts. Grounded on openfile.cc:295's
// `static_cast<VFSDevice*>(file->node)->getWork(flags)` call site and
// the round-robin scan it drives, translated onto the shared Bus lock
// channel.Channel already uses for its own queues.
package device

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
	"github.com/kyrios-os/vfscore/waitq"
)

// Capabilities is the fixed bitmask spec.md §4.4/§4.5 describes: which
// message kinds a driver declares it will answer. Channel.request
// rejects unsupported kinds with NotSupported before they are ever
// enqueued; GetWork itself does not consult the mask, so a raw message
// pushed with Subsystem.Send reaches the driver whatever its kind.
type Capabilities uint16

const (
	CapOpen Capabilities = 1 << iota
	CapRead
	CapWrite
	CapClose
	CapStat
	CapCancel
	CapShFile
	CapCreateSibling
)

func (c Capabilities) Supports(kind channel.MessageKind) bool {
	switch kind &^ 0x8000 {
	case channel.KindOpen:
		return c&CapOpen != 0
	case channel.KindRead:
		return c&CapRead != 0
	case channel.KindWrite:
		return c&CapWrite != 0
	case channel.KindClose:
		return c&CapClose != 0
	case channel.KindStat:
		return c&CapStat != 0
	case channel.KindCancel:
		return c&CapCancel != 0
	case channel.KindShFile:
		return c&CapShFile != 0
	case channel.KindCreateSibling:
		return c&CapCreateSibling != 0
	default:
		return false
	}
}

// Device owns one driver's pool of client channels. All channel queue
// access goes through bus.Mu, shared with every Channel, so GetWork's
// scan across channels and a client's concurrent PushToDriver never
// race.
type Device struct {
	bus  *channel.Bus
	tree *vfsnode.Tree

	ID   vfsnode.ID
	Caps Capabilities

	mu       sync.Mutex
	channels []*channel.Channel
	cursor   int // round-robin position into channels, per Device::getWork

	pending *prometheus.GaugeVec
}

// New constructs a Device bound to a node id and a capability mask.
func New(bus *channel.Bus, tree *vfsnode.Tree, id vfsnode.ID, caps Capabilities, reg prometheus.Registerer) *Device {
	d := &Device{
		bus: bus, tree: tree, ID: id, Caps: caps,
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vfscore",
			Subsystem: "device",
			Name:      "pending_requests",
			Help:      "Client channels with driver-bound requests pending, per device.",
		}, []string{"device"}),
	}
	if reg != nil {
		reg.MustRegister(d.pending)
	}
	return d
}

// Supports satisfies channel.CapabilityChecker.
func (d *Device) Supports(kind channel.MessageKind) bool { return d.Caps.Supports(kind) }

// AddChannel registers a freshly opened client channel with this
// device, making it visible to future GetWork scans.
func (d *Device) AddChannel(c *channel.Channel) {
	d.mu.Lock()
	d.channels = append(d.channels, c)
	d.mu.Unlock()
}

// RemoveChannel drops c from the round-robin pool, e.g. once the client
// has closed it and every pending message has been drained.
func (d *Device) RemoveChannel(c *channel.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ch := range d.channels {
		if ch == c {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			if d.cursor > i {
				d.cursor--
			}
			return
		}
	}
}

// GetWork blocks until some client channel has a driver-bound message
// pending, then returns it along with the channel it came from,
// advancing the round-robin cursor past it so the next call prefers a
// different client (spec.md §4.5: "fairness across clients", grounded
// on Device::getWork's rotating start index).
func (d *Device) GetWork(ctx context.Context, tid waitq.ThreadID) (channel.Message, *channel.Channel, error) {
	for {
		d.bus.Mu.Lock()
		d.mu.Lock()
		n := len(d.channels)
		still := 0
		for _, ch := range d.channels {
			if ch.PendingToDriverLocked() {
				still++
			}
		}
		for i := 0; i < n; i++ {
			idx := (d.cursor + i) % n
			ch := d.channels[idx]
			if msg, ok := ch.PopFromDriverLocked(); ok {
				d.cursor = (idx + 1) % n
				left := still - 1
				if ch.PendingToDriverLocked() {
					left++
				}
				d.mu.Unlock()
				d.bus.Mu.Unlock()
				d.pending.WithLabelValues(d.ID.String()).Set(float64(left))
				return msg, ch, nil
			}
		}
		d.pending.WithLabelValues(d.ID.String()).Set(float64(still))
		d.mu.Unlock()
		d.bus.Mu.Unlock()

		err := d.bus.Wait.Wait(ctx, tid, []waitq.Key{{Kind: waitq.ClientArrived, Object: channel.WaitObjectFor(d.ID)}})
		if err != nil {
			return channel.Message{}, nil, err
		}
	}
}

// Reply delivers a driver response (or an unsolicited broadcast, when
// msg's nonce is zero) back to the client on ch.
func (d *Device) Reply(ch *channel.Channel, msg channel.Message) {
	ch.PushResponse(msg)
}

// ClientRemoved marks ch's client as gone (Channel.MarkClientGone), so
// later client requests on ch fail with Destroyed. It does not drop ch
// from the round-robin pool; RemoveChannel does that.
func (d *Device) ClientRemoved(ch *channel.Channel) {
	ch.MarkClientGone()
}

// Shutdown marks every channel of this device as driver-gone, releasing
// any client blocked in Channel.Receive with vfserr.Destroyed, and
// drains the channel pool. Run via an errgroup so a device with many
// channels tears them down concurrently instead of one at a time.
func (d *Device) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	chans := append([]*channel.Channel(nil), d.channels...)
	d.channels = nil
	d.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, ch := range chans {
		ch := ch
		g.Go(func() error {
			ch.MarkDriverGone()
			return nil
		})
	}
	return g.Wait()
}

// CreateSibling asks via's driver to materialize a new named channel
// alongside via, for pty-style drivers that hand back a second channel
// for the "slave" side of a connection. The new channel is attached
// under this device, pooled with GetWork's round-robin scan exactly
// like one opened through the usual open(path) path.
func (d *Device) CreateSibling(ctx context.Context, tid waitq.ThreadID, via *channel.Channel, name string) (*channel.Channel, error) {
	resp, err := via.CreateSibling(ctx, tid, channel.CreateSiblingRequest{Name: name})
	if err != nil {
		return nil, err
	}
	if resp.Result < 0 {
		return nil, vfserr.FromResult("creatsibl", resp.Result)
	}

	id, err := d.tree.Create(d.ID, name, vfsnode.KindChannel, 0600, via.ClientPID)
	if err != nil {
		return nil, err
	}
	sib := channel.New(d.bus, d.tree, id, d.ID, via.ClientPID, d)
	if err := d.tree.Attach(id, &vfsnode.ChannelHandle{Impl: sib}); err != nil {
		d.tree.Unlink(d.ID, name)
		d.tree.Release(id)
		return nil, err
	}
	d.AddChannel(sib)
	return sib, nil
}
