// Package ticket paces callers which share one externally rate limited resource.
//
// Callers ask for a ticket with a delay. Tickets are granted one at a time,
// at most one per interval, earliest not-before deadline first.
package ticket

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

// ErrClosed is returned by Request once the controller is closed.
var ErrClosed = errors.New("ticket controller closed")

type ticket struct {
	deadline time.Time
	seq      uint64
	granted  chan struct{}
}

// before orders tickets by deadline, then by request sequence.
func before(a, b *ticket) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}

// Controller is a shared, time gated queue of tickets.
// It is safe for concurrent use.
type Controller struct {
	interval time.Duration

	mu     sync.Mutex
	queue  *btree.BTreeG[*ticket]
	seq    uint64
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a controller granting at most one ticket per interval and starts its granting goroutine.
func New(interval time.Duration) *Controller {
	c := &Controller{
		interval: interval,
		queue:    btree.NewBTreeGOptions(before, btree.Options{NoLocks: true}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Interval returns the minimum gap between two grants.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// Request blocks until the caller is granted a ticket.
// The ticket is not granted before delay has passed since the call.
// A negative delay is granted on the next cycle.
func (c *Controller) Request(ctx context.Context, delay time.Duration) error {
	t := &ticket{
		deadline: time.Now().Add(delay),
		granted:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.seq++
	t.seq = c.seq
	c.queue.Set(t)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case <-t.granted:
		return nil
	case <-ctx.Done():
		if c.abandon(t) {
			return ctx.Err()
		}
		return nil
	case <-c.done:
		select {
		case <-t.granted:
			return nil
		default:
			return ErrClosed
		}
	}
}

// abandon removes a ticket which was not granted yet.
// It reports false if the ticket was granted in the meantime.
func (c *Controller) abandon(t *ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-t.granted:
		return false
	default:
	}
	c.queue.Delete(t)
	return true
}

// Pending returns the number of waiting tickets.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Close stops the granting goroutine. Waiting and future requests return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.wg.Wait()
}

// run parks while the queue is empty. Otherwise it looks at the earliest ticket
// once per interval and grants it if its deadline has passed.
func (c *Controller) run() {
	defer c.wg.Done()

	for {
		wait, ok := c.nextWait()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}

		// Without an interval an earlier ticket may arrive while sleeping.
		var wake <-chan struct{}
		if c.interval <= 0 {
			wake = c.wake
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
			continue
		case <-c.done:
			timer.Stop()
			return
		}

		c.grantNext()
	}
}

// nextWait returns how long to sleep before the next grant decision.
// Without an interval it sleeps until the earliest deadline instead of spinning.
func (c *Controller) nextWait() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.queue.Min()
	if !ok {
		return 0, false
	}
	if c.interval > 0 {
		return c.interval, true
	}
	wait := time.Until(t.deadline)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (c *Controller) grantNext() {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.queue.PopMin()
	if !ok {
		return
	}
	if now := time.Now(); !t.deadline.After(now) {
		close(t.granted)
		log.Debug().Str("func", "grantNext").Dur("late", now.Sub(t.deadline)).Int("pending", c.queue.Len()).Msg("ticket granted")
		return
	}
	c.queue.Set(t)
}
