package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Avis2912/magnus/internal/event"
)

var (
	// ErrIdle is returned by Subscription.Next when nothing arrived within
	// the wait interval.
	ErrIdle = errors.New("no event within wait interval")
	// ErrRevoked is returned once a newer subscriber has taken over the
	// channel or the subscription was closed.
	ErrRevoked = errors.New("subscription revoked")
)

// Channel is an unbounded FIFO of events for one task. Producers never block.
//
// At most one subscription consumes the channel at a time; subscribing again
// revokes the previous subscription. Entries that were not taken stay queued
// for the next subscriber.
type Channel struct {
	mu    sync.Mutex
	items []event.Event
	wake  chan struct{}
	lease *Subscription
}

func NewChannel() *Channel {
	return &Channel{wake: make(chan struct{})}
}

// Push appends evt and wakes any waiting consumer.
func (c *Channel) Push(evt event.Event) {
	c.mu.Lock()
	c.items = append(c.items, evt)
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
}

// Len reports the number of queued, undelivered entries.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe makes the caller the channel's only consumer.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{ch: c, revoked: make(chan struct{})}
	c.mu.Lock()
	prev := c.lease
	c.lease = sub
	c.mu.Unlock()
	if prev != nil {
		prev.revoke()
	}
	return sub
}

func (c *Channel) take(sub *Subscription) (event.Event, bool, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease != sub {
		return event.Event{}, false, nil, ErrRevoked
	}
	if len(c.items) == 0 {
		return event.Event{}, false, c.wake, nil
	}
	evt := c.items[0]
	c.items[0] = event.Event{}
	c.items = c.items[1:]
	return evt, true, nil, nil
}

func (c *Channel) release(sub *Subscription) {
	c.mu.Lock()
	if c.lease == sub {
		c.lease = nil
	}
	c.mu.Unlock()
}

type Subscription struct {
	ch      *Channel
	revoked chan struct{}
	once    sync.Once
}

// Next waits up to wait for the next entry. It returns ErrIdle on timeout,
// ErrRevoked after a takeover, or the context error on cancellation.
func (s *Subscription) Next(ctx context.Context, wait time.Duration) (event.Event, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		evt, ok, wake, err := s.ch.take(s)
		if err != nil {
			return event.Event{}, err
		}
		if ok {
			return evt, nil
		}
		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-s.revoked:
			return event.Event{}, ErrRevoked
		case <-timer.C:
			return event.Event{}, ErrIdle
		case <-wake:
		}
	}
}

// Revoked is closed when the subscription stops being the channel consumer.
func (s *Subscription) Revoked() <-chan struct{} {
	return s.revoked
}

// Close releases the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.ch.release(s)
	s.revoke()
}

func (s *Subscription) revoke() {
	s.once.Do(func() { close(s.revoked) })
}
