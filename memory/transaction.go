package memory

import (
	"fmt"
	"sync"

	"github.com/airheartdev/workshop"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

// Transaction buffers row writes and commits them to the backend under a
// single txid, logging one change message per written row.
type Transaction struct {
	cache   *btree.Tree[string, write]
	backend *Backend
	txid    workshop.Txid
	mu      *sync.Mutex
}

type write struct {
	table   string
	id      string
	value   any
	deleted bool
}

// NewTransaction starts a transaction against backend. Flush must be called
// with the backend lock held.
func NewTransaction(backend *Backend, txid workshop.Txid) *Transaction {
	return &Transaction{
		backend: backend,
		txid:    txid,
		mu:      &sync.Mutex{},
		cache:   btree.New[string, write](generic.Less[string]),
	}
}

func (t *Transaction) Txid() workshop.Txid {
	return t.txid
}

func (t *Transaction) Put(table string, id string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Put(cacheKey(table, id), write{table: table, id: id, value: value})
}

// Del marks the row deleted. value is the last known row, sent as the
// delete message's value.
func (t *Transaction) Del(table string, id string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Put(cacheKey(table, id), write{table: table, id: id, value: value, deleted: true})
}

func (t *Transaction) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Size() == 0
}

// Flush checks every buffered write against the backend, then applies them
// all and appends their change messages to the log. If any write fails the
// check, nothing is applied and every failure is reported together.
func (t *Transaction) Flush() error {
	if t.IsEmpty() {
		return nil
	}

	backend := t.backend
	t.mu.Lock()
	defer t.mu.Unlock()

	type staged struct {
		write
		tbl store
		msg workshop.ChangeMessage
	}

	var (
		writes []staged
		errs   error
	)
	t.cache.Each(func(key string, w write) {
		tbl, ok := backend.tables[w.table]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", w.table, workshop.ErrUnknownTable))
			return
		}

		op, err := tbl.check(w.id, w.value, w.deleted)
		if err != nil {
			errs = multierror.Append(errs, err)
			return
		}

		msg, err := newMessage(w.table, w.id, op, w.value)
		if err != nil {
			errs = multierror.Append(errs, err)
			return
		}
		txid := t.txid
		msg.Headers.Txid = &txid
		msg.Headers.Txids = []workshop.Txid{txid}
		writes = append(writes, staged{write: w, tbl: tbl, msg: msg})
	})
	if errs != nil {
		return errs
	}

	now := backend.now()
	changes := make(map[string][]workshop.ChangeMessage)
	for _, w := range writes {
		w.tbl.apply(w.id, w.value, w.deleted, t.txid, now)
		changes[w.table] = append(changes[w.table], w.msg)
	}
	for table, messages := range changes {
		backend.log.append(table, messages)
	}
	return nil
}

func cacheKey(table string, id string) string {
	return table + "/" + id
}
