package openfile_test

import (
	"testing"

	. "github.com/jacobsa/ogletest"

	"github.com/kyrios-os/vfscore/openfile"
	"github.com/kyrios-os/vfscore/vfserr"
	"github.com/kyrios-os/vfscore/vfsnode"
)

func TestTable(t *testing.T) { RunTests(t) }

type TableTest struct {
	tree  *vfsnode.Tree
	table *openfile.Table
}

func init() { RegisterTestSuite(&TableTest{}) }

func (t *TableTest) SetUp(ti *TestInfo) {
	t.tree = vfsnode.New(nil, 16)
	t.table = openfile.New(t.tree)
}

func (t *TableTest) createNode(name string) vfsnode.ID {
	id, err := t.tree.Create(t.tree.Root(), name, vfsnode.KindFile, 0644, 0)
	AssertEq(nil, err)
	return id
}

func (t *TableTest) TestGetFreeAllocatesNewEntry() {
	node := t.createNode("a")
	h, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	e, ok := t.table.Get(h)
	AssertTrue(ok)
	ExpectEq(node, e.Node)
	ExpectEq(int32(1), e.RefCount)
}

func (t *TableTest) TestGetFreeReusesMatchingEntry() {
	node := t.createNode("shared")
	h1, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	AssertEq(nil, t.tree.Hold(node))
	h2, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)
	ExpectEq(h1, h2)

	e, ok := t.table.Get(h1)
	AssertTrue(ok)
	ExpectEq(int32(2), e.RefCount)
}

func (t *TableTest) TestGetFreeDifferentOwnerAllocatesSeparateEntry() {
	node := t.createNode("multi")
	h1, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	AssertEq(nil, t.tree.Hold(node))
	h2, err := t.table.GetFree(2, openfile.Read, node)
	AssertEq(nil, err)
	ExpectNe(h1, h2)
}

func (t *TableTest) TestExclusiveOpenConflictsWithExistingOpen() {
	node := t.createNode("excl")
	_, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	AssertEq(nil, t.tree.Hold(node))
	_, err = t.table.GetFree(2, openfile.Read|openfile.Exclusive, node)
	AssertTrue(err != nil)
	ExpectTrue(vfserr.Is(err, vfserr.Busy))
	t.tree.Release(node) // the failed GetFree releases nothing on its own
}

func (t *TableTest) TestCloseFreesNodeReferenceWhenRefCountReachesZero() {
	node := t.createNode("closeme")
	h, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	AssertEq(nil, t.tree.Unlink(t.tree.Root(), "closeme"))
	AssertEq(nil, t.table.Close(h))

	_, ok := t.tree.KindOf(node)
	ExpectFalse(ok, "Close should have released the adopted tree reference, freeing the node")
}

func (t *TableTest) TestBorrowDefersCloseUntilReleased() {
	node := t.createNode("borrowed")
	h, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	t.table.Borrow(h)
	AssertEq(nil, t.table.Close(h))

	_, ok := t.table.Get(h)
	ExpectTrue(ok, "entry should still be live while borrowed")

	t.table.Release(h)
	_, ok = t.table.Get(h)
	ExpectFalse(ok, "entry should be freed once the borrow is released")
}

func (t *TableTest) TestSeekSetAndCurrent() {
	node := t.createNode("seek")
	h, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	pos, err := t.table.Seek(h, 10, openfile.SeekSet, nil)
	AssertEq(nil, err)
	ExpectEq(int64(10), pos)

	pos, err = t.table.Seek(h, 5, openfile.SeekCur, nil)
	AssertEq(nil, err)
	ExpectEq(int64(15), pos)
}

func (t *TableTest) TestSeekEndRejectedForChannelKind() {
	chanDev, err := t.tree.Create(t.tree.Root(), "dev", vfsnode.KindDevice, 0755, 0)
	AssertEq(nil, err)
	chanNode, err := t.tree.Create(chanDev, "c", vfsnode.KindChannel, 0600, 0)
	AssertEq(nil, err)

	h, err := t.table.GetFree(1, openfile.Msgs, chanNode)
	AssertEq(nil, err)

	_, err = t.table.Seek(h, 0, openfile.SeekEnd, func() (int64, error) { return 100, nil })
	ExpectTrue(vfserr.Is(err, vfserr.IllegalSeek))
}

func (t *TableTest) TestFcntlGetAndSetFlags() {
	node := t.createNode("flags")
	h, err := t.table.GetFree(1, openfile.Read, node)
	AssertEq(nil, err)

	v, err := t.table.Fcntl(h, openfile.GetFlags, 0)
	AssertEq(nil, err)
	ExpectEq(0, v)

	_, err = t.table.Fcntl(h, openfile.SetFlags, 1)
	AssertEq(nil, err)

	v, err = t.table.Fcntl(h, openfile.GetFlags, 0)
	AssertEq(nil, err)
	ExpectEq(1, v)
}
