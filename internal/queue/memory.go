package queue

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

// ErrChannelClosed is returned by a closed MemoryChannel.
var ErrChannelClosed = errors.New("channel closed")

var (
	_ ingestion.Publisher  = (*MemoryChannel)(nil)
	_ ingestion.Subscriber = (*MemoryChannel)(nil)
)

// MemoryChannel is an unbounded in-process FIFO with explicit acknowledgement.
// Fetched but unacknowledged messages can be pushed back with Redeliver, which
// mimics a consumer restart. It is safe for concurrent use.
type MemoryChannel struct {
	mutex      sync.Mutex
	pending    []ingestion.Delivery
	inflight   map[uint64]ingestion.Delivery
	acked      []string
	nextID     uint64
	publishErr error
	closed     bool
	notify     chan struct{}
}

type memoryRef struct {
	id uint64
}

// NewMemoryChannel creates an empty channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		inflight: make(map[uint64]ingestion.Delivery),
		notify:   make(chan struct{}, 1),
	}
}

// Publish appends a message, or returns the error set by FailPublish.
func (c *MemoryChannel) Publish(_ context.Context, key string, value []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	if c.publishErr != nil {
		return c.publishErr
	}

	body := make([]byte, len(value))
	copy(body, value)

	c.nextID++
	c.pending = append(c.pending, ingestion.Delivery{Key: key, Value: body, Source: memoryRef{id: c.nextID}})
	c.signal()

	return nil
}

// Fetch blocks until a message is available or ctx is done.
func (c *MemoryChannel) Fetch(ctx context.Context) (ingestion.Delivery, error) {
	for {
		c.mutex.Lock()

		if c.closed {
			c.signal() // wake the next blocked fetcher
			c.mutex.Unlock()

			return ingestion.Delivery{}, ErrChannelClosed
		}

		if len(c.pending) > 0 {
			d := c.pending[0]
			c.pending = c.pending[1:]
			c.inflight[d.Source.(memoryRef).id] = d

			if len(c.pending) > 0 {
				c.signal()
			}

			c.mutex.Unlock()

			return d, nil
		}

		c.mutex.Unlock()

		select {
		case <-ctx.Done():
			return ingestion.Delivery{}, ctx.Err()
		case <-c.notify:
		}
	}
}

// Ack settles a fetched message.
func (c *MemoryChannel) Ack(_ context.Context, d ingestion.Delivery) error {
	ref, ok := d.Source.(memoryRef)
	if !ok {
		return errors.New("delivery was not fetched from this channel")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.inflight[ref.id]; !ok {
		return errors.New("delivery is not in flight")
	}

	delete(c.inflight, ref.id)
	c.acked = append(c.acked, d.Key)

	return nil
}

// Redeliver moves every in-flight message back to the head of the queue.
func (c *MemoryChannel) Redeliver() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.inflight) == 0 {
		return 0
	}

	back := make([]ingestion.Delivery, 0, len(c.inflight)+len(c.pending))
	for _, d := range c.inflight {
		back = append(back, d)
	}

	slices.SortFunc(back, func(a, b ingestion.Delivery) int {
		return cmp.Compare(a.Source.(memoryRef).id, b.Source.(memoryRef).id)
	})

	n := len(back)
	c.pending = append(back, c.pending...)
	c.inflight = make(map[uint64]ingestion.Delivery)
	c.signal()

	return n
}

// FailPublish makes subsequent publishes return err. A nil err restores publishing.
func (c *MemoryChannel) FailPublish(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.publishErr = err
}

// Pending returns the number of messages waiting to be fetched.
func (c *MemoryChannel) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.pending)
}

// InFlight returns the number of fetched, unacknowledged messages.
func (c *MemoryChannel) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.inflight)
}

// Acked returns the keys of acknowledged messages in acknowledgement order.
func (c *MemoryChannel) Acked() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]string, len(c.acked))
	copy(out, c.acked)

	return out
}

// Close wakes blocked fetchers and rejects further use.
func (c *MemoryChannel) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	c.signal()

	return nil
}

// signal must be called with the lock held.
func (c *MemoryChannel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
