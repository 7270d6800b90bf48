// Package live keeps views of replicated tables that include the local
// effect of in-flight mutations. Each mutation is applied to an overlay,
// sent to the API, confirmed on the table's shape stream and then retired,
// at which point the confirmed row takes its place.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/optimistic"
	"github.com/google/uuid"
)

type (
	// Source is a shape stream: fan-out of change batches plus the current
	// confirmed rows. *shape.Stream implements it.
	Source interface {
		Subscribe(fn func([]workshop.ChangeMessage)) (unsubscribe func())
		Rows() []json.RawMessage
	}

	Collection[K comparable, T any] struct {
		source      Source
		coordinator *mutation.Coordinator
		merger      optimistic.Merger[K, T]
		overlay     optimistic.Overlay[K, T]
	}

	Option func(o *options)

	options struct {
		now       func() time.Time
		heuristic bool
	}
)

func NewCollection[K comparable, T any](source Source, coordinator *mutation.Coordinator, merger optimistic.Merger[K, T]) *Collection[K, T] {
	return &Collection[K, T]{
		source:      source,
		coordinator: coordinator,
		merger:      merger,
	}
}

// WithClock sets the clock used for provisional timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithHeuristicMatching sends inserts without a correlation id, so pending
// rows are reconciled by field matching alone.
func WithHeuristicMatching() Option {
	return func(o *options) {
		o.heuristic = true
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) correlationID() string {
	if o.heuristic {
		return ""
	}
	return uuid.NewString()
}

// Confirmed decodes the rows currently in the shape.
func (c *Collection[K, T]) Confirmed() ([]T, error) {
	raw := c.source.Rows()
	rows := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		rows = append(rows, v)
	}
	return rows, nil
}

// View is the confirmed rows with every pending entry merged in.
func (c *Collection[K, T]) View() ([]T, error) {
	confirmed, err := c.Confirmed()
	if err != nil {
		return nil, err
	}
	return c.merger.Merge(confirmed, c.overlay.Pending()), nil
}

func (c *Collection[K, T]) Pending() []optimistic.Entry[K, T] {
	return c.overlay.Pending()
}

// Mutate shows entry in the view until fn's txid is confirmed on the shape
// or the attempt fails.
func (c *Collection[K, T]) Mutate(ctx context.Context, entry optimistic.Entry[K, T], fn mutation.MutateFunc) (workshop.Txid, error) {
	if entry.MutationID == "" {
		entry.MutationID = uuid.NewString()
	}
	c.overlay.Apply(entry)
	defer c.overlay.Retire(entry.MutationID)

	return c.coordinator.Confirm(ctx, c.source, fn)
}
