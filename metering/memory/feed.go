package memory

import (
	"context"
	"sync"

	"github.com/xraph/progression"
	"github.com/xraph/progression/identity"
)

// Feed is a channel-backed identity change feed. Events are delivered in
// emission order; Emit after Close is a no-op.
type Feed struct {
	mu     sync.Mutex
	events chan *identity.ChangeEvent
	closed bool
}

var _ identity.Feed = (*Feed)(nil)

// NewFeed creates a feed with the given buffer size.
func NewFeed(buffer int) *Feed {
	return &Feed{events: make(chan *identity.ChangeEvent, buffer)}
}

// Emit queues an event for delivery. It blocks when the buffer is full. The
// lock is held across the send so a concurrent Close cannot close the channel
// underneath it.
func (f *Feed) Emit(ev *identity.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.events <- ev
}

func (f *Feed) Next(ctx context.Context) (*identity.ChangeEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-f.events:
		if !ok {
			return nil, progression.ErrFeedClosed
		}
		return ev, nil
	}
}

func (f *Feed) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}
