package channel

import (
	"sync"

	"github.com/kyrios-os/vfscore/waitq"
)

// Bus is the pair of locks spec.md §5 calls out as "exactly two global
// locks": here it is the wait-lock half (message queues plus the wait
// table itself share one lock, per spec.md: "A separate lock guards
// channel message lists" that is, in §5's own words, the same "wait
// lock" used for the wait table). The tree lock lives in vfsnode and is
// always acquired before this one, never the reverse; nothing in this
// package ever takes the tree lock while holding Bus.Mu.
type Bus struct {
	Mu   sync.Mutex
	Wait *waitq.Table
}

// NewBus constructs a Bus around an existing wait table.
func NewBus(wait *waitq.Table) *Bus {
	return &Bus{Wait: wait}
}
