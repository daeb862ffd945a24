package vfscore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/kyrios-os/vfscore/channel"
	"github.com/kyrios-os/vfscore/device"
	"github.com/kyrios-os/vfscore/openfile"
	"github.com/kyrios-os/vfscore/signal"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
	"github.com/kyrios-os/vfscore/waitq"
)

// VirtualMemory is the seam spec.md §1 names for "a virtual-memory layer
// that validates user pointers" — entirely out of scope for this core
// (no page tables, per the Non-goals), kept only as the interface a
// shared-memory-window consumer (channel.ShFile callers) would depend
// on in a full kernel.
type VirtualMemory interface {
	// Validate reports whether [addr, addr+n) is mapped and accessible
	// with the requested permissions for pid.
	Validate(pid int, addr uintptr, n int, write bool) error
}

// SignalTarget is the seam spec.md §1 names for "a signal subsystem
// reporting pending signals to blocked threads". package signal
// implements the bookkeeping; something outside this module (a real
// scheduler) is expected to call Raise when an external event (a
// keyboard interrupt, a process death) should interrupt a thread.
type SignalTarget interface {
	Raise(tid waitq.ThreadID, sig int) error
}

// Subsystem is every piece of state spec.md §4 describes, wired
// together: one wait table, one node tree, one open-file table, one
// channel bus (the wait lock doubles as the message-queue lock, per
// spec.md §5), a named set of devices, and one signal table. Grounded
// on MountedFileSystem as the single value a caller holds to drive the
// whole mounted-filesystem session.
type Subsystem struct {
	cfg Config

	InstanceID uuid.UUID
	Log        *logrus.Logger
	Metrics    *prometheus.Registry

	Wait    *waitq.Table
	Tree    *vfsnode.Tree
	Files   *openfile.Table
	Bus     *channel.Bus
	Signals *signal.Table
	Sched   Scheduler

	devices map[string]*device.Device

	cancelMu sync.Mutex
	cancels  map[waitq.ThreadID]context.CancelFunc
}

// New constructs a fully wired, empty Subsystem.
func New(cfg Config) *Subsystem {
	cfg = cfg.withDefaults()

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = NewGoroutineScheduler()
	}

	reg := prometheus.NewRegistry()
	wait := waitq.New(cfg.WaitCapacity, sched, reg)
	tree := vfsnode.New(clock, cfg.NegativeCacheSize)

	return &Subsystem{
		cfg:        cfg,
		InstanceID: uuid.New(),
		Log:        cfg.Log,
		Metrics:    reg,
		Wait:       wait,
		Tree:       tree,
		Files:      openfile.New(tree),
		Bus:        channel.NewBus(wait),
		Signals:    signal.New(),
		Sched:      sched,
		devices:    make(map[string]*device.Device),
		cancels:    make(map[waitq.ThreadID]context.CancelFunc),
	}
}

// Raise implements SignalTarget: it records sig as pending for tid,
// grounded on signals.cc's raise(), and cancels the context of tid's
// in-progress Read or Write, if any (the only calls that register one),
// mirroring a real scheduler delivering a signal to a thread parked in
// a blocking read or write.
// The aborted call surfaces vfserr.Interrupted to its caller, which
// runs tid's handler (if one is registered) before returning.
func (s *Subsystem) Raise(tid waitq.ThreadID, sig int) error {
	s.Signals.Add(tid, sig)
	s.cancelMu.Lock()
	cancel := s.cancels[tid]
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// signalScope derives a child context tid's current blocking call waits
// on, registered so Raise can abort it, and returns a cleanup that
// unregisters it and, if the call was in fact interrupted, runs
// whatever handler tid has installed for the delivered signal via
// package signal's CheckAndStart/AckHandling protocol.
func (s *Subsystem) signalScope(ctx context.Context, tid waitq.ThreadID) (context.Context, func(*error)) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancels[tid] = cancel
	s.cancelMu.Unlock()

	return ctx, func(errp *error) {
		cancel()
		s.cancelMu.Lock()
		delete(s.cancels, tid)
		s.cancelMu.Unlock()

		if errp == nil || !vfserr.Is(*errp, vfserr.Interrupted) {
			return
		}
		sig, handler, err := s.Signals.CheckAndStart(tid)
		if err != nil || handler == nil {
			return
		}
		handler(sig)
		s.Signals.AckHandling(tid)
	}
}

// RegisterDevice implements the mount side of spec.md's namespace
// conventions: it creates a KindDevice node under parent named name
// (typically under /dev) and returns the device.Device driving it, per
// spec.md §4.5.
func (s *Subsystem) RegisterDevice(parent vfsnode.ID, name string, caps device.Capabilities) (*device.Device, error) {
	id, err := s.Tree.Create(parent, name, vfsnode.KindDevice, 0755, 0)
	if err != nil {
		return nil, err
	}
	dev := device.New(s.Bus, s.Tree, id, caps, s.Metrics)
	if err := s.Tree.Attach(id, &vfsnode.DeviceHandle{Impl: dev}); err != nil {
		return nil, err
	}
	s.devices[name] = dev
	s.Log.WithFields(logrus.Fields{"device": name, "instance": s.InstanceID}).Info("device registered")
	return dev, nil
}

// Device looks up a previously registered device by the name it was
// registered under.
func (s *Subsystem) Device(name string) (*device.Device, bool) {
	d, ok := s.devices[name]
	return d, ok
}

// DeviceNames lists every name passed to RegisterDevice so far, for
// cmd/vfsctl's "devices" subcommand.
func (s *Subsystem) DeviceNames() []string {
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	return names
}
