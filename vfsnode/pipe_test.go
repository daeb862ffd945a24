package vfsnode_test

import (
	"testing"

	. "github.com/jacobsa/ogletest"

	"github.com/kyrios-os/vfscore/vfsnode"
)

func TestPipe(t *testing.T) { RunTests(t) }

type PipeTest struct {
	tree *vfsnode.Tree
	id   vfsnode.ID
}

func init() { RegisterTestSuite(&PipeTest{}) }

func (t *PipeTest) SetUp(ti *TestInfo) {
	t.tree = vfsnode.New(nil, 16)
	id, err := t.tree.Create(t.tree.Root(), "p", vfsnode.KindPipe, 0600, 0)
	AssertEq(nil, err)
	AssertEq(nil, t.tree.Attach(id, vfsnode.NewPipeRing(4)))
	t.id = id
}

func (t *PipeTest) TearDown() {
	t.tree.Release(t.id)
}

func (t *PipeTest) TestReadFromEmptyRingWouldBlock() {
	buf := make([]byte, 4)
	n, wouldBlock, err := t.tree.PipeTryRead(t.id, buf)
	AssertEq(nil, err)
	ExpectTrue(wouldBlock)
	ExpectEq(0, n)
}

func (t *PipeTest) TestWriteThenReadRoundTrips() {
	n, wouldBlock, err := t.tree.PipeTryWrite(t.id, []byte("ab"))
	AssertEq(nil, err)
	ExpectFalse(wouldBlock)
	ExpectEq(2, n)

	buf := make([]byte, 4)
	n, wouldBlock, err = t.tree.PipeTryRead(t.id, buf)
	AssertEq(nil, err)
	ExpectFalse(wouldBlock)
	AssertEq(2, n)
	ExpectEq("ab", string(buf[:n]))
}

func (t *PipeTest) TestWriteToFullRingWouldBlock() {
	_, _, err := t.tree.PipeTryWrite(t.id, []byte("abcd"))
	AssertEq(nil, err)

	n, wouldBlock, err := t.tree.PipeTryWrite(t.id, []byte("e"))
	AssertEq(nil, err)
	ExpectTrue(wouldBlock)
	ExpectEq(0, n)
}

func (t *PipeTest) TestRingWrapsAroundAfterPartialDrain() {
	_, _, err := t.tree.PipeTryWrite(t.id, []byte("abcd"))
	AssertEq(nil, err)

	buf := make([]byte, 2)
	n, _, err := t.tree.PipeTryRead(t.id, buf)
	AssertEq(nil, err)
	AssertEq(2, n)
	ExpectEq("ab", string(buf))

	// The write below wraps the tail past the end of the backing array,
	// and the read after it wraps the head, exercising the modulo
	// wraparound in both directions.
	n, wouldBlock, err := t.tree.PipeTryWrite(t.id, []byte("ef"))
	AssertEq(nil, err)
	ExpectFalse(wouldBlock)
	AssertEq(2, n)

	out := make([]byte, 4)
	n, _, err = t.tree.PipeTryRead(t.id, out)
	AssertEq(nil, err)
	AssertEq(4, n)
	ExpectEq("cdef", string(out))
}
