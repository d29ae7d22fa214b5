package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamechat/domain"
	"gamechat/errors"
)

// WriteFunc hands one frame to the transport. It may block until the
// transport accepts the bytes; only this connection's writer goroutine
// calls it.
type WriteFunc func(ctx context.Context, frame domain.Frame) error

// Connection is one live transport session, owned by the Registry.
//
// Outbound frames go through a bounded queue of fixed depth. When the queue
// is full, a system frame (presence, notification, error reply) evicts the
// oldest ordinary chat frame; an ordinary chat frame on a full queue means
// the peer is not keeping pace, and Enqueue reports ErrSlowConsumer so the
// caller closes this connection instead of buffering unboundedly.
type Connection struct {
	ID        string
	Identity  string
	CreatedAt time.Time

	chatBudget  *TokenBucket
	blockBudget *TokenBucket

	// Inbound commands are handled by a single reader goroutine, so the
	// malformed counter needs no lock.
	malformed int

	mu     sync.Mutex
	queue  []domain.Frame
	depth  int
	closed bool
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	write  WriteFunc
}

type ConnectionLimits struct {
	ChatCapacity      int
	ChatRefillPerSec  float64
	BlockCapacity     int
	BlockRefillPerSec float64
	QueueDepth        int
}

func NewConnection(identity string, limits ConnectionLimits, write WriteFunc) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		Identity:    identity,
		CreatedAt:   time.Now().UTC(),
		chatBudget:  NewTokenBucket(limits.ChatCapacity, limits.ChatRefillPerSec),
		blockBudget: NewTokenBucket(limits.BlockCapacity, limits.BlockRefillPerSec),
		depth:       limits.QueueDepth,
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		write:       write,
	}
}

// Enqueue places a frame on the outbound queue. Enqueueing to a closed
// connection returns ErrConnectionClosed; an in-flight fan-out racing a
// close simply skips the connection.
func (c *Connection) Enqueue(frame domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConnectionClosed
	}

	if len(c.queue) < c.depth {
		c.queue = append(c.queue, frame)
		c.notify()
		return nil
	}

	if !frame.System() {
		return errors.ErrSlowConsumer
	}

	// Full queue, system frame: evict the oldest ordinary frame.
	for i, queued := range c.queue {
		if !queued.System() {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.queue = append(c.queue, frame)
			c.notify()
			return nil
		}
	}

	// Queue entirely made of system frames: nothing is evictable, the
	// incoming frame is lost.
	return nil
}

func (c *Connection) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Close marks the connection terminal and wakes the writer. Safe to call
// concurrently and more than once.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once the connection reaches its terminal state.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) drain() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames
}

// QueueLen reports the current outbound backlog.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// WriteLoop drains the outbound queue to the transport until the connection
// closes or a write fails. It runs as the single writer goroutine for this
// connection; a slow peer only ever stalls its own loop.
func (c *Connection) WriteLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.signal:
			for _, frame := range c.drain() {
				if err := c.write(ctx, frame); err != nil {
					c.Close()
					return err
				}
			}
		}
	}
}
