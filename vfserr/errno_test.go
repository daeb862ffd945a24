package vfserr_test

import (
	"testing"

	. "github.com/jacobsa/ogletest"
	"golang.org/x/sys/unix"

	"github.com/kyrios-os/vfscore/vfserr"
)

func TestErrno(t *testing.T) { RunTests(t) }

type ErrnoTest struct{}

func init() { RegisterTestSuite(&ErrnoTest{}) }

func (t *ErrnoTest) TestIsMatchesBareSentinel() {
	ExpectTrue(vfserr.Is(vfserr.NoSuchEntry, vfserr.NoSuchEntry))
}

func (t *ErrnoTest) TestIsMatchesWithOpDerivedError() {
	err := vfserr.NoSuchEntry.WithOp("open")
	ExpectTrue(vfserr.Is(err, vfserr.NoSuchEntry))
}

func (t *ErrnoTest) TestIsRejectsUnrelatedSentinel() {
	err := vfserr.NoSuchEntry.WithOp("open")
	ExpectFalse(vfserr.Is(err, vfserr.Busy))
}

func (t *ErrnoTest) TestIsTellsApartSentinelsSharingTheSameErrno() {
	// NoClient and Destroyed both wrap ENOLINK; Is must distinguish them
	// by provenance, not by the underlying unix.Errno value.
	AssertEq(vfserr.NoClient.Errno, vfserr.Destroyed.Errno)

	noClient := vfserr.NoClient.WithOp("write")
	ExpectTrue(vfserr.Is(noClient, vfserr.NoClient))
	ExpectFalse(vfserr.Is(noClient, vfserr.Destroyed))

	destroyed := vfserr.Destroyed.WithOp("receive")
	ExpectTrue(vfserr.Is(destroyed, vfserr.Destroyed))
	ExpectFalse(vfserr.Is(destroyed, vfserr.NoClient))
}

func (t *ErrnoTest) TestWithOpChainsBackToTheSameRoot() {
	once := vfserr.Busy.WithOp("a")
	twice := once.WithOp("b")
	ExpectTrue(vfserr.Is(twice, vfserr.Busy))
	ExpectEq("b", twice.Op)
}

func (t *ErrnoTest) TestIsRejectsNonErrnoError() {
	ExpectFalse(vfserr.Is(unix.EINVAL, vfserr.InvalidArgument))
}

func (t *ErrnoTest) TestFromResultWrapsNegativeErrno() {
	err := vfserr.FromResult("read", -int32(unix.EAGAIN))
	ExpectTrue(vfserr.Is(err, vfserr.WouldBlock))
}

func (t *ErrnoTest) TestErrorStringIncludesOpWhenSet() {
	err := vfserr.NotPermitted.WithOp("unlink")
	ExpectEq("unlink: operation not permitted", err.Error())
}

func (t *ErrnoTest) TestErrorStringOmitsOpWhenBare() {
	ExpectEq("invalid argument", vfserr.InvalidArgument.Error())
}
