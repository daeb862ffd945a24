package signal_test

import (
	"testing"

	. "github.com/jacobsa/ogletest"

	"github.com/kyrios-os/vfscore/signal"
	"github.com/kyrios-os/vfscore/vfserr"
)

func TestSignal(t *testing.T) { RunTests(t) }

type SignalTest struct {
	table *signal.Table
}

func init() { RegisterTestSuite(&SignalTest{}) }

func (t *SignalTest) SetUp(ti *TestInfo) {
	t.table = signal.New()
}

func (t *SignalTest) TestCheckAndStartReturnsFalseWhenNothingPending() {
	sig, h, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)
	ExpectEq(0, sig)
	ExpectTrue(h == nil)
}

func (t *SignalTest) TestRegisteredSignalIsDelivered() {
	called := 0
	t.table.Register(1, 5, func(sig int) { called = sig })
	t.table.Add(1, 5)

	sig, h, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)
	ExpectEq(5, sig)
	h(sig)
	ExpectEq(5, called)
}

func (t *SignalTest) TestUnhandledSignalsAreSkippedInFIFOOrder() {
	t.table.Add(1, 1) // no handler registered for 1
	t.table.Add(1, 2) // no handler registered for 2
	t.table.Register(1, 3, func(int) {})
	t.table.Add(1, 3)

	sig, h, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)
	AssertTrue(h != nil)
	ExpectEq(3, sig)

	ExpectFalse(t.table.Pending(1), "unhandled signals ahead of the handled one should have been drained")
}

func (t *SignalTest) TestCheckAndStartFailsBusyWhileAlreadyHandling() {
	t.table.Register(1, 7, func(int) {})
	t.table.Add(1, 7)
	_, _, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)

	t.table.Register(1, 8, func(int) {})
	t.table.Add(1, 8)
	_, _, err = t.table.CheckAndStart(1)
	AssertTrue(err != nil)
	ExpectTrue(vfserr.Is(err, vfserr.Busy))
}

func (t *SignalTest) TestAckHandlingAllowsNextDelivery() {
	t.table.Register(1, 7, func(int) {})
	t.table.Add(1, 7)
	_, _, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)

	t.table.AckHandling(1)

	t.table.Register(1, 8, func(int) {})
	t.table.Add(1, 8)
	sig, _, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)
	ExpectEq(8, sig)
}

func (t *SignalTest) TestPendingReflectsUnhandledSignalsToo() {
	ExpectFalse(t.table.Pending(1))
	t.table.Add(1, 99) // no handler registered at all
	ExpectTrue(t.table.Pending(1))
}

func (t *SignalTest) TestForgetDropsHandlersAndPending() {
	t.table.Register(1, 1, func(int) {})
	t.table.Add(1, 1)
	t.table.Forget(1)

	ExpectFalse(t.table.Pending(1))
	sig, h, err := t.table.CheckAndStart(1)
	AssertEq(nil, err)
	ExpectEq(0, sig)
	ExpectTrue(h == nil)
}

func (t *SignalTest) TestEntriesAreRecycledAcrossThreads() {
	t.table.Register(1, 1, func(int) {})
	t.table.Add(1, 1)
	t.table.CheckAndStart(1)
	t.table.AckHandling(1)

	// Freed slot from thread 1 should be reusable by thread 2 without
	// growing the backing arena unboundedly.
	t.table.Register(2, 2, func(int) {})
	t.table.Add(2, 2)
	sig, _, err := t.table.CheckAndStart(2)
	AssertEq(nil, err)
	ExpectEq(2, sig)
}
