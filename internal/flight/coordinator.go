package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coordinator dedupes concurrent work per cache key inside one process:
// at most one work invocation is in flight per key, and every caller
// for that key receives the same result. Slots are removed as soon as
// the shared call resolves, success or failure, so a failed attempt
// never wedges later requests for the key.
type Coordinator[V any] struct {
	group singleflight.Group
}

func NewCoordinator[V any]() *Coordinator[V] {
	return &Coordinator[V]{}
}

// Execute runs work under the slot for key, or joins the slot already
// in flight. The returned bool reports whether this caller led the
// flight (invoked work itself) rather than joining as a waiter.
//
// The leader's work runs on a context detached from cancellation: a
// waiter hanging up, or the leader's own client disconnecting, must not
// cancel a call other waiters still need. work is expected to bound
// itself with its own timeout. A caller whose ctx ends while waiting
// gets ctx.Err() immediately; the flight continues for the rest.
func (c *Coordinator[V]) Execute(ctx context.Context, key string, work func(context.Context) (V, error)) (V, bool, error) {
	var led bool
	ch := c.group.DoChan(key, func() (any, error) {
		led = true
		return work(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		// The channel receive orders the led write before this read.
		v, _ := res.Val.(V)
		return v, led, res.Err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}
