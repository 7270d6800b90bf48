// Package memory is an in-process Backend. Every committed transaction gets
// a txid and appends change messages to a per-table log, which is served
// with the same long-poll protocol as the hosted change-stream service.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zyedidia/generic"
)

type (
	Backend struct {
		mu sync.Mutex

		todos      *table[int64, workshop.Todo]
		users      *table[string, workshop.User]
		checkboxes *table[int64, workshop.Checkbox]
		polls      *table[int64, workshop.Poll]
		votes      *table[int64, workshop.PollVote]
		tables     map[string]store

		sequences map[string]int64
		txid      workshop.Txid
		log       *Log
		instance  string

		now         func() time.Time
		liveTimeout time.Duration
		logger      logrus.FieldLogger

		closed    chan struct{}
		closeOnce sync.Once
	}

	Option func(b *Backend)
)

var _ workshop.Backend = (*Backend)(nil)

func New(options ...Option) *Backend {
	b := &Backend{
		todos:       newTable[int64, workshop.Todo](workshop.TableTodos, generic.Less[int64], parseInt, formatInt),
		users:       newTable[string, workshop.User](workshop.TableUsers, generic.Less[string], parseString, formatString),
		checkboxes:  newTable[int64, workshop.Checkbox](workshop.TableCheckboxes, generic.Less[int64], parseInt, formatInt),
		polls:       newTable[int64, workshop.Poll](workshop.TablePolls, generic.Less[int64], parseInt, formatInt),
		votes:       newTable[int64, workshop.PollVote](workshop.TablePollVotes, generic.Less[int64], parseInt, formatInt),
		sequences:   make(map[string]int64),
		log:         newLog(),
		instance:    uuid.NewString(),
		now:         time.Now,
		liveTimeout: 20 * time.Second,
		logger:      logrus.StandardLogger(),
		closed:      make(chan struct{}),
	}
	b.tables = map[string]store{
		workshop.TableTodos:      b.todos,
		workshop.TableUsers:      b.users,
		workshop.TableCheckboxes: b.checkboxes,
		workshop.TablePolls:      b.polls,
		workshop.TablePollVotes:  b.votes,
	}

	for _, option := range options {
		option(b)
	}

	now := b.now()
	for id := int64(1); id <= 1000; id++ {
		b.checkboxes.put(id, workshop.Checkbox{ID: id, CreatedAt: now, UpdatedAt: now}, 0, now)
	}

	return b
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithLiveTimeout bounds how long a live shape request waits for changes
// before answering up-to-date with no messages.
func WithLiveTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.liveTimeout = d
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Close ends every waiting live shape request with an empty up-to-date
// response. Later live requests return at once. Rows stay readable and
// writable.
func (b *Backend) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Txid returns the most recently assigned transaction id.
func (b *Backend) Txid() workshop.Txid {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txid
}

func (b *Backend) CreateTodo(ctx context.Context, in workshop.NewTodo) (workshop.Todo, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.Todo{}, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	todo := workshop.Todo{
		ID:            b.next(workshop.TableTodos),
		Text:          in.Text,
		UserIDs:       []uuid.UUID{},
		CorrelationID: in.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.UserID != nil {
		todo.UserIDs = append(todo.UserIDs, *in.UserID)
	}

	tx := b.begin()
	tx.Put(workshop.TableTodos, formatInt(todo.ID), todo)
	if err := tx.Flush(); err != nil {
		return workshop.Todo{}, 0, err
	}
	return todo, tx.Txid(), nil
}

func (b *Backend) UpdateTodo(ctx context.Context, id int64, patch workshop.TodoPatch) (workshop.Todo, workshop.Txid, error) {
	if err := patch.Validate(); err != nil {
		return workshop.Todo{}, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	todo, ok := b.todos.get(id)
	if !ok {
		return workshop.Todo{}, 0, workshop.ErrNotFound
	}
	if patch.Text != nil {
		todo.Text = *patch.Text
	}
	if patch.Completed != nil {
		todo.Completed = *patch.Completed
	}
	todo.UserIDs = append(append([]uuid.UUID{}, todo.UserIDs...), patch.UserID)
	todo.UpdatedAt = b.now()

	tx := b.begin()
	tx.Put(workshop.TableTodos, formatInt(id), todo)
	if err := tx.Flush(); err != nil {
		return workshop.Todo{}, 0, err
	}
	return todo, tx.Txid(), nil
}

func (b *Backend) DeleteTodo(ctx context.Context, id int64) (workshop.Txid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	todo, ok := b.todos.get(id)
	if !ok {
		return 0, workshop.ErrNotFound
	}

	tx := b.begin()
	tx.Del(workshop.TableTodos, formatInt(id), todo)
	if err := tx.Flush(); err != nil {
		return 0, err
	}
	return tx.Txid(), nil
}

func (b *Backend) GetRow(ctx context.Context, spec workshop.TableSpec, id any) (workshop.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tbl, ok := b.tables[spec.Name]
	if !ok {
		return nil, workshop.ErrUnknownTable
	}
	value, ok := tbl.lookup(fmt.Sprint(id))
	if !ok {
		return nil, workshop.ErrNotFound
	}
	return toRow(value)
}

func (b *Backend) UpdateRow(ctx context.Context, spec workshop.TableSpec, id any, column string, value any) (workshop.Row, workshop.Txid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		updated any
		err     error
	)
	now := b.now()

	switch spec.Name {
	case workshop.TableTodos:
		updated, err = updateRow(b.todos, id, func(t *workshop.Todo) error {
			t.UpdatedAt = now
			return setColumn(column, value, map[string]any{"text": &t.Text, "completed": &t.Completed})
		})
	case workshop.TableUsers:
		updated, err = updateRow(b.users, id, func(u *workshop.User) error {
			u.UpdatedAt = now
			return setColumn(column, value, map[string]any{"name": &u.Name})
		})
	case workshop.TableCheckboxes:
		updated, err = updateRow(b.checkboxes, id, func(c *workshop.Checkbox) error {
			c.UpdatedAt = now
			return setColumn(column, value, map[string]any{"checked": &c.Checked})
		})
	case workshop.TablePolls:
		updated, err = updateRow(b.polls, id, func(p *workshop.Poll) error {
			p.UpdatedAt = now
			return setColumn(column, value, map[string]any{"name": &p.Name, "x": &p.X, "y": &p.Y})
		})
	default:
		return nil, 0, workshop.ErrUnknownColumn
	}
	if err != nil {
		return nil, 0, err
	}

	tx := b.begin()
	tx.Put(spec.Name, fmt.Sprint(id), updated)
	if err := tx.Flush(); err != nil {
		return nil, 0, err
	}

	row, err := toRow(updated)
	if err != nil {
		return nil, 0, err
	}
	return row, tx.Txid(), nil
}

func (b *Backend) ListTables(ctx context.Context) ([]workshop.TableMetadata, error) {
	return tableMetadata(), nil
}

func (b *Backend) CreateUser(ctx context.Context, name string) (workshop.User, error) {
	if err := (workshop.NewUser{Name: name}).Validate(); err != nil {
		return workshop.User{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	user := workshop.User{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}

	tx := b.begin()
	tx.Put(workshop.TableUsers, user.ID.String(), user)
	if err := tx.Flush(); err != nil {
		return workshop.User{}, err
	}
	return user, nil
}

func (b *Backend) UpdateUser(ctx context.Context, id uuid.UUID, name string) (workshop.User, error) {
	if err := (workshop.UserPatch{ID: id, Name: name}).Validate(); err != nil {
		return workshop.User{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	user, ok := b.users.get(id.String())
	if !ok {
		return workshop.User{}, workshop.ErrNotFound
	}
	user.Name = name
	user.UpdatedAt = b.now()

	tx := b.begin()
	tx.Put(workshop.TableUsers, id.String(), user)
	if err := tx.Flush(); err != nil {
		return workshop.User{}, err
	}
	return user, nil
}

func (b *Backend) ListUsers(ctx context.Context) ([]workshop.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users.values(), nil
}

func (b *Backend) ToggleCheckbox(ctx context.Context, id int64, userID uuid.UUID) (workshop.Checkbox, workshop.Txid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	box, ok := b.checkboxes.get(id)
	if !ok {
		return workshop.Checkbox{}, 0, workshop.ErrNotFound
	}
	box = box.Toggled(userID, b.now())

	tx := b.begin()
	tx.Put(workshop.TableCheckboxes, formatInt(id), box)
	if err := tx.Flush(); err != nil {
		return workshop.Checkbox{}, 0, err
	}
	return box, tx.Txid(), nil
}

func (b *Backend) ListCheckboxes(ctx context.Context) ([]workshop.Checkbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkboxes.values(), nil
}

func (b *Backend) CreatePoll(ctx context.Context, in workshop.NewPoll) (workshop.Poll, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.Poll{}, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	poll := workshop.Poll{
		ID:        b.next(workshop.TablePolls),
		Name:      in.Name,
		X:         in.X,
		Y:         in.Y,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx := b.begin()
	tx.Put(workshop.TablePolls, formatInt(poll.ID), poll)
	if err := tx.Flush(); err != nil {
		return workshop.Poll{}, 0, err
	}
	return poll, tx.Txid(), nil
}

func (b *Backend) CreateVote(ctx context.Context, in workshop.NewVote) (workshop.PollVote, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.PollVote{}, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.polls.get(in.PollID); !ok {
		return workshop.PollVote{}, 0, workshop.ErrNotFound
	}

	now := b.now()
	vote := workshop.PollVote{
		ID:            b.next(workshop.TablePollVotes),
		PollID:        in.PollID,
		UserID:        in.UserID,
		CorrelationID: in.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx := b.begin()
	tx.Put(workshop.TablePollVotes, formatInt(vote.ID), vote)
	if err := tx.Flush(); err != nil {
		return workshop.PollVote{}, 0, err
	}
	return vote, tx.Txid(), nil
}

// begin starts a transaction with the next txid. Callers hold b.mu.
func (b *Backend) begin() *Transaction {
	b.txid++
	return NewTransaction(b, b.txid)
}

func (b *Backend) next(table string) int64 {
	b.sequences[table]++
	return b.sequences[table]
}

func updateRow[K comparable, T any](t *table[K, T], id any, mutate func(*T) error) (T, error) {
	var zero T
	key, ok := id.(K)
	if !ok {
		parsed, err := t.parse(fmt.Sprint(id))
		if err != nil {
			return zero, err
		}
		key = parsed
	}

	row, found := t.get(key)
	if !found {
		return zero, workshop.ErrNotFound
	}
	if err := mutate(&row); err != nil {
		return zero, err
	}
	return row, nil
}

func setColumn(column string, value any, fields map[string]any) error {
	field, ok := fields[column]
	if !ok {
		return workshop.ErrUnknownColumn
	}

	switch dst := field.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return &workshop.ValidationError{Field: column, Reason: "must be a string"}
		}
		*dst = v
	case *bool:
		v, ok := value.(bool)
		if !ok {
			return &workshop.ValidationError{Field: column, Reason: "must be a boolean"}
		}
		*dst = v
	case *float64:
		v, ok := value.(float64)
		if !ok {
			return &workshop.ValidationError{Field: column, Reason: "must be a number"}
		}
		*dst = v
	}
	return nil
}

func toRow(v any) (workshop.Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	row := workshop.Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}
