// Package mutation confirms writes against a change stream: a mutation is
// only reported as done once the transaction that committed it has been
// observed on the stream the caller reads from.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds the wait for a txid to show up on the stream.
const DefaultTimeout = 30 * time.Second

var (
	ErrMutationFailed      = errors.New("mutation failed")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
)

type (
	// Stream is a fan-out source of change message batches.
	Stream interface {
		Subscribe(fn func([]workshop.ChangeMessage)) (unsubscribe func())
	}

	// MutateFunc performs the write and returns its txid.
	MutateFunc func(ctx context.Context) (workshop.Txid, error)

	Coordinator struct {
		timeout time.Duration
		logger  logrus.FieldLogger
	}

	Option func(c *Coordinator)
)

func New(options ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  logrus.StandardLogger(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithTimeout sets the confirmation timeout. Zero waits until ctx is done.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Confirm subscribes to stream, runs mutate and waits until a message carrying
// the returned txid has been seen. Txids seen while mutate is in flight are
// buffered, so a change that beats the response still confirms it.
//
// The subscription is released on every return path. mutate is never retried.
func (c *Coordinator) Confirm(ctx context.Context, stream Stream, mutate MutateFunc) (workshop.Txid, error) {
	w := newWaiter()
	unsubscribe := stream.Subscribe(w.observe)
	defer unsubscribe()

	txid, err := mutate(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}

	seen := w.expect(txid)
	select {
	case <-seen:
		c.logger.Debugf("Txid %d already seen", txid)
		return txid, nil
	default:
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-seen:
		c.logger.Debugf("Txid %d confirmed", txid)
		return txid, nil
	case <-timeout:
		c.logger.Warnf("Txid %d not seen within %s", txid, c.timeout)
		return txid, fmt.Errorf("%w: txid %d after %s", ErrConfirmationTimeout, txid, c.timeout)
	case <-ctx.Done():
		return txid, ctx.Err()
	}
}

// Do is Confirm for mutations that also return a value. The value is returned
// even when confirmation fails, since the write itself succeeded.
func Do[T any](ctx context.Context, c *Coordinator, stream Stream, mutate func(ctx context.Context) (T, workshop.Txid, error)) (T, workshop.Txid, error) {
	var result T
	txid, err := c.Confirm(ctx, stream, func(ctx context.Context) (workshop.Txid, error) {
		v, txid, err := mutate(ctx)
		result = v
		return txid, err
	})
	return result, txid, err
}

type waiter struct {
	mu      sync.Mutex
	seen    map[workshop.Txid]struct{}
	want    workshop.Txid
	waiting bool
	done    chan struct{}
}

func newWaiter() *waiter {
	return &waiter{
		seen: make(map[workshop.Txid]struct{}),
		done: make(chan struct{}),
	}
}

func (w *waiter) observe(messages []workshop.ChangeMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, msg := range messages {
		for _, txid := range msg.Headers.AllTxids() {
			w.seen[txid] = struct{}{}
			if w.waiting && txid == w.want {
				w.resolve()
			}
		}
	}
}

func (w *waiter) expect(txid workshop.Txid) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.want = txid
	w.waiting = true
	if _, ok := w.seen[txid]; ok {
		w.resolve()
	}
	return w.done
}

// resolve closes done once. Callers hold w.mu.
func (w *waiter) resolve() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
