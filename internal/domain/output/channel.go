package output

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// MinCapacity is the smallest buffer a Channel accepts. A channel
// without a buffer silently loses everything sent before its consumer
// subscribes, which leaves the affected block executing forever.
const MinCapacity = 64

// ErrClosed is returned when subscribing to a closed channel
var ErrClosed = errors.New("output channel closed")

// Delivery is the observable outcome of a single Send
type Delivery int

const (
	// Delivered means every subscriber received the value
	Delivered Delivery = iota
	// DeliveredDroppedOldest means at least one subscriber was full and
	// lost its oldest queued value to make room
	DeliveredDroppedOldest
	// Backlogged means there were no subscribers; the value is held for
	// the first one
	Backlogged
	// BackloggedDroppedOldest means the backlog was full and its oldest
	// value was discarded
	BackloggedDroppedOldest
	// Rejected means the channel is closed
	Rejected
	// Discarded means there were no subscribers and the channel keeps no
	// backlog
	Discarded
)

// String returns the string representation of the delivery outcome
func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case DeliveredDroppedOldest:
		return "delivered_dropped_oldest"
	case Backlogged:
		return "backlogged"
	case BackloggedDroppedOldest:
		return "backlogged_dropped_oldest"
	case Rejected:
		return "rejected"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Dropped reports whether some value was lost by this send
func (d Delivery) Dropped() bool {
	return d == DeliveredDroppedOldest || d == BackloggedDroppedOldest || d == Rejected
}

// Options configures a Channel
type Options[T any] struct {
	// Name appears in log lines
	Name string
	// Capacity is the per-subscriber buffer and the backlog size.
	// Values below MinCapacity are raised to MinCapacity.
	Capacity int
	Logger   *zap.Logger
	// OnSend observes every send outcome (metrics hook)
	OnSend func(Delivery)
	// Describe adds value-specific fields to drop logs
	Describe func(T) []zap.Field
	// NoBacklog discards values sent while nobody is subscribed instead
	// of replaying them to the first subscriber. For event streams whose
	// old entries mean nothing to a late listener.
	NoBacklog bool
}

// Stats counts send outcomes over the channel's lifetime
type Stats struct {
	Sent       uint64
	Dropped    uint64
	Backlogged uint64
	Rejected   uint64
	Discarded  uint64
}

// Channel is a bounded, non-blocking broadcast channel. Send never
// blocks: a full subscriber loses its oldest queued value. Values sent
// while nobody is subscribed are kept in a bounded backlog and handed to
// the first subscriber, unless the channel was created with NoBacklog.
type Channel[T any] struct {
	mu        sync.Mutex
	name      string
	capacity  int
	subs      map[*Subscription[T]]struct{}
	backlog   []T
	noBacklog bool
	closed    bool
	stats     Stats

	logger   *zap.Logger
	onSend   func(Delivery)
	describe func(T) []zap.Field
}

// Subscription receives values from a Channel
type Subscription[T any] struct {
	ch     chan T
	parent *Channel[T]
	done   bool // Protected by parent.mu
}

// NewChannel creates a broadcast channel
func NewChannel[T any](opts Options[T]) *Channel[T] {
	capacity := opts.Capacity
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Channel[T]{
		name:      opts.Name,
		capacity:  capacity,
		subs:      make(map[*Subscription[T]]struct{}),
		noBacklog: opts.NoBacklog,
		logger:    logger,
		onSend:    opts.OnSend,
		describe:  opts.Describe,
	}
}

// Capacity returns the effective buffer size
func (c *Channel[T]) Capacity() int {
	return c.capacity
}

// Subscribe registers a new consumer. The first subscriber also
// receives everything held in the backlog, in send order.
func (c *Channel[T]) Subscribe() (*Subscription[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	sub := &Subscription[T]{
		ch:     make(chan T, c.capacity),
		parent: c,
	}
	for _, v := range c.backlog {
		sub.ch <- v
	}
	if n := len(c.backlog); n > 0 {
		c.logger.Debug("Replayed backlog to subscriber",
			zap.String("channel", c.name),
			zap.Int("count", n),
		)
	}
	c.backlog = nil
	c.subs[sub] = struct{}{}
	return sub, nil
}

// Send publishes v to all subscribers without blocking and reports what
// happened. Drops and rejections are logged.
func (c *Channel[T]) Send(v T) Delivery {
	c.mu.Lock()
	delivery := c.sendLocked(v)
	c.mu.Unlock()

	if c.onSend != nil {
		c.onSend(delivery)
	}
	return delivery
}

func (c *Channel[T]) sendLocked(v T) Delivery {
	if c.closed {
		c.stats.Rejected++
		c.logDrop(v, Rejected)
		return Rejected
	}

	if len(c.subs) == 0 && c.noBacklog {
		c.stats.Discarded++
		return Discarded
	}
	if len(c.subs) == 0 {
		c.stats.Backlogged++
		if len(c.backlog) < c.capacity {
			c.backlog = append(c.backlog, v)
			return Backlogged
		}
		c.backlog = append(c.backlog[1:], v)
		c.stats.Dropped++
		c.logDrop(v, BackloggedDroppedOldest)
		return BackloggedDroppedOldest
	}

	delivery := Delivered
	for sub := range c.subs {
		select {
		case sub.ch <- v:
			continue
		default:
		}

		// Full: evict the oldest value. Only Send writes to sub.ch and
		// Send holds c.mu, so after one receive there is room.
		select {
		case <-sub.ch:
			c.stats.Dropped++
			delivery = DeliveredDroppedOldest
		default:
		}
		sub.ch <- v
	}
	c.stats.Sent++

	if delivery != Delivered {
		c.logDrop(v, delivery)
	}
	return delivery
}

func (c *Channel[T]) logDrop(v T, d Delivery) {
	fields := []zap.Field{
		zap.String("channel", c.name),
		zap.String("delivery", d.String()),
		zap.Int("capacity", c.capacity),
		zap.Int("subscribers", len(c.subs)),
	}
	if c.describe != nil {
		fields = append(fields, c.describe(v)...)
	}
	c.logger.Warn("Output channel send degraded", fields...)
}

// Stats returns a copy of the send counters
func (c *Channel[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes every subscription. Later sends are rejected.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		sub.done = true
		close(sub.ch)
	}
	c.subs = nil
	c.backlog = nil
}

// C returns the receive side of the subscription. It is closed when the
// subscription or the channel is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes. Values still queued remain readable from C.
func (s *Subscription[T]) Close() {
	c := s.parent
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	delete(c.subs, s)
	close(s.ch)
}
