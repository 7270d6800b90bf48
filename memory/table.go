package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/airheartdev/workshop"
	g "github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

type (
	// Entry is a stored row. Deleted rows are kept as tombstones.
	Entry[T any] struct {
		Value          T
		Deleted        bool
		Txid           workshop.Txid
		LastModifiedAt time.Time
	}

	table[K comparable, T any] struct {
		name    string
		entries *btree.Tree[K, *Entry[T]]
		parse   func(string) (K, error)
		format  func(K) string
	}

	// store is the untyped view of a table used by transactions and the
	// shape endpoint.
	store interface {
		check(id string, value any, deleted bool) (workshop.Operation, error)
		apply(id string, value any, deleted bool, txid workshop.Txid, now time.Time)
		snapshot() ([]workshop.ChangeMessage, error)
		lookup(id string) (any, bool)
		size() int
	}
)

func newTable[K comparable, T any](name string, less g.LessFn[K], parse func(string) (K, error), format func(K) string) *table[K, T] {
	return &table[K, T]{
		name:    name,
		entries: btree.New[K, *Entry[T]](less),
		parse:   parse,
		format:  format,
	}
}

func (t *table[K, T]) get(key K) (T, bool) {
	entry, ok := t.entries.Get(key)
	if !ok || entry.Deleted {
		var zero T
		return zero, false
	}
	return entry.Value, true
}

// put writes value and reports whether the key held a live row before.
func (t *table[K, T]) put(key K, value T, txid workshop.Txid, now time.Time) bool {
	if entry, ok := t.entries.Get(key); ok {
		existed := !entry.Deleted
		entry.Value = value
		entry.Deleted = false
		entry.Txid = txid
		entry.LastModifiedAt = now
		return existed
	}

	t.entries.Put(key, &Entry[T]{
		Value:          value,
		Txid:           txid,
		LastModifiedAt: now,
	})
	return false
}

func (t *table[K, T]) del(key K, txid workshop.Txid, now time.Time) bool {
	entry, ok := t.entries.Get(key)
	if !ok || entry.Deleted {
		return false
	}
	entry.Deleted = true
	entry.Txid = txid
	entry.LastModifiedAt = now
	return true
}

func (t *table[K, T]) values() []T {
	values := make([]T, 0, t.entries.Size())
	t.entries.Each(func(key K, entry *Entry[T]) {
		if !entry.Deleted {
			values = append(values, entry.Value)
		}
	})
	return values
}

func (t *table[K, T]) size() int {
	n := 0
	t.entries.Each(func(key K, entry *Entry[T]) {
		if !entry.Deleted {
			n++
		}
	})
	return n
}

func (t *table[K, T]) lookup(id string) (any, bool) {
	key, err := t.parse(id)
	if err != nil {
		return nil, false
	}
	return t.get(key)
}

// check reports the operation a write would perform, without changing the
// table.
func (t *table[K, T]) check(id string, value any, deleted bool) (workshop.Operation, error) {
	key, err := t.parse(id)
	if err != nil {
		return "", fmt.Errorf("%s: invalid key %q: %w", t.name, id, err)
	}

	_, live := t.get(key)
	if deleted {
		if !live {
			return "", fmt.Errorf("%s/%s: %w", t.name, id, workshop.ErrNotFound)
		}
		return workshop.OpDelete, nil
	}

	if _, ok := value.(T); !ok {
		return "", fmt.Errorf("%s/%s: unexpected row type %T", t.name, id, value)
	}
	if live {
		return workshop.OpUpdate, nil
	}
	return workshop.OpInsert, nil
}

// apply performs a write that passed check.
func (t *table[K, T]) apply(id string, value any, deleted bool, txid workshop.Txid, now time.Time) {
	key, _ := t.parse(id)
	if deleted {
		t.del(key, txid, now)
		return
	}
	t.put(key, value.(T), txid, now)
}

func (t *table[K, T]) snapshot() ([]workshop.ChangeMessage, error) {
	var (
		messages []workshop.ChangeMessage
		err      error
	)
	t.entries.Each(func(key K, entry *Entry[T]) {
		if entry.Deleted || err != nil {
			return
		}
		var msg workshop.ChangeMessage
		msg, err = newMessage(t.name, t.format(key), workshop.OpInsert, entry.Value)
		if entry.Txid != 0 {
			txid := entry.Txid
			msg.Headers.Txid = &txid
			msg.Headers.Txids = []workshop.Txid{txid}
		}
		messages = append(messages, msg)
	})
	return messages, err
}

func newMessage(table, id string, op workshop.Operation, value any) (workshop.ChangeMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return workshop.ChangeMessage{}, fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	return workshop.ChangeMessage{
		Key:   workshop.MessageKey(table, id),
		Value: data,
		Headers: workshop.Headers{
			Relation:  []string{"public", table},
			Operation: op,
		},
	}, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func formatInt(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseString(s string) (string, error) {
	return s, nil
}

func formatString(s string) string {
	return s
}
