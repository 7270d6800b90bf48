package optimistic

import "sort"

// Merger folds pending entries over confirmed rows. Key is required; the
// other functions are optional.
type Merger[K comparable, T any] struct {
	Key  func(T) K
	Less func(a, b T) bool

	// Correlation returns the client-generated id a confirmed row echoes back.
	Correlation func(T) string

	// Match is the fallback for pending inserts that carry no correlation id.
	Match func(confirmed, pending T) bool

	// Combine applies a pending value to the row it targets. By default the
	// pending value replaces the row.
	Combine func(confirmed, pending T) T
}

type slot[T any] struct {
	value     T
	confirmed bool
	claimed   bool
	deleted   bool
}

// Merge returns the rows to display. Each pending entry, in order:
//
//  1. overlays the row with the same key, else
//  2. overlays the row echoing its correlation id, else
//  3. overlays the first unclaimed confirmed row Match accepts (entries
//     without a correlation id only), else
//  4. becomes a provisional row.
//
// Rows targeted by a pending delete are left out. A mutation id that appears
// twice is only applied once. The result is stable-sorted by Less.
func (m Merger[K, T]) Merge(confirmed []T, pending []Entry[K, T]) []T {
	slots := make([]*slot[T], 0, len(confirmed)+len(pending))
	byKey := make(map[K]*slot[T], len(confirmed))
	byCorrelation := make(map[string]*slot[T])

	for _, v := range confirmed {
		s := &slot[T]{value: v, confirmed: true}
		slots = append(slots, s)
		byKey[m.Key(v)] = s
		if m.Correlation != nil {
			if id := m.Correlation(v); id != "" {
				byCorrelation[id] = s
			}
		}
	}

	applied := make(map[string]bool, len(pending))
	for _, entry := range pending {
		if applied[entry.MutationID] {
			continue
		}
		applied[entry.MutationID] = true

		target := m.find(entry, slots, byKey, byCorrelation)
		switch {
		case entry.Delete:
			if target != nil {
				target.deleted = true
			}
		case target != nil:
			target.value = m.combine(target.value, entry.Value)
		default:
			s := &slot[T]{value: entry.Value}
			slots = append(slots, s)
			if entry.HasKey {
				byKey[entry.Key] = s
			}
			if entry.CorrelationID != "" {
				byCorrelation[entry.CorrelationID] = s
			}
		}
	}

	rows := make([]T, 0, len(slots))
	for _, s := range slots {
		if !s.deleted {
			rows = append(rows, s.value)
		}
	}
	if m.Less != nil {
		sort.SliceStable(rows, func(i, j int) bool { return m.Less(rows[i], rows[j]) })
	}
	return rows
}

func (m Merger[K, T]) find(entry Entry[K, T], slots []*slot[T], byKey map[K]*slot[T], byCorrelation map[string]*slot[T]) *slot[T] {
	if entry.HasKey {
		if s, ok := byKey[entry.Key]; ok {
			return s
		}
	}
	if entry.CorrelationID != "" {
		return byCorrelation[entry.CorrelationID]
	}
	if m.Match == nil || entry.Delete {
		return nil
	}
	for _, s := range slots {
		if s.confirmed && !s.claimed && !s.deleted && m.Match(s.value, entry.Value) {
			s.claimed = true
			return s
		}
	}
	return nil
}

func (m Merger[K, T]) combine(confirmed, pending T) T {
	if m.Combine == nil {
		return pending
	}
	return m.Combine(confirmed, pending)
}
