// Package optimistic keeps in-flight local edits and merges them over the
// confirmed rows of a shape, so a view shows both without duplicates.
package optimistic

import (
	"sort"
	"sync"
)

type (
	// Entry is the local effect of one in-flight mutation. Key is only
	// meaningful when HasKey is set; inserts usually have no key yet and are
	// matched by CorrelationID instead.
	Entry[K comparable, T any] struct {
		MutationID    string
		Key           K
		HasKey        bool
		Value         T
		Delete        bool
		CorrelationID string
	}

	// Overlay holds the pending entries of a collection. The zero value is
	// ready to use.
	Overlay[K comparable, T any] struct {
		mu      sync.Mutex
		seq     uint64
		entries map[string]pending[K, T]
	}

	pending[K comparable, T any] struct {
		entry Entry[K, T]
		seq   uint64
	}
)

// Apply records entry. Applying the same mutation id again replaces the
// entry but keeps its original position; it reports whether the id was new.
func (o *Overlay[K, T]) Apply(entry Entry[K, T]) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.entries == nil {
		o.entries = make(map[string]pending[K, T])
	}
	if existing, ok := o.entries[entry.MutationID]; ok {
		o.entries[entry.MutationID] = pending[K, T]{entry: entry, seq: existing.seq}
		return false
	}

	o.seq++
	o.entries[entry.MutationID] = pending[K, T]{entry: entry, seq: o.seq}
	return true
}

// Retire drops the entry of a finished mutation, whatever its outcome.
func (o *Overlay[K, T]) Retire(mutationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, mutationID)
}

// Pending returns the entries in the order they were first applied.
func (o *Overlay[K, T]) Pending() []Entry[K, T] {
	o.mu.Lock()
	defer o.mu.Unlock()

	list := make([]pending[K, T], 0, len(o.entries))
	for _, p := range o.entries {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	entries := make([]Entry[K, T], len(list))
	for i, p := range list {
		entries[i] = p.entry
	}
	return entries
}

func (o *Overlay[K, T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
