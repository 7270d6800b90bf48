package live

import (
	"context"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/client"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/optimistic"
	"github.com/google/uuid"
)

type Todos struct {
	*Collection[int64, workshop.Todo]
	client  *client.Client
	options options
}

func NewTodos(c *client.Client, source Source, coordinator *mutation.Coordinator, opts ...Option) *Todos {
	return &Todos{
		Collection: NewCollection(source, coordinator, TodoMerger()),
		client:     c,
		options:    newOptions(opts),
	}
}

// TodoMerger orders todos by creation time. Pending inserts are matched by
// correlation id, or by text and first owner when they have none.
func TodoMerger() optimistic.Merger[int64, workshop.Todo] {
	return optimistic.Merger[int64, workshop.Todo]{
		Key: func(t workshop.Todo) int64 { return t.ID },
		Less: func(a, b workshop.Todo) bool { return a.CreatedAt.Before(b.CreatedAt) },
		Correlation: func(t workshop.Todo) string { return t.CorrelationID },
		Match: func(confirmed, pending workshop.Todo) bool {
			if confirmed.Text != pending.Text {
				return false
			}
			a, aok := confirmed.FirstOwner()
			b, bok := pending.FirstOwner()
			return aok == bok && a == b
		},
		Combine: func(confirmed, pending workshop.Todo) workshop.Todo {
			confirmed.Text = pending.Text
			confirmed.Completed = pending.Completed
			return confirmed
		},
	}
}

// Add creates a todo owned by the client's session user, if any.
func (t *Todos) Add(ctx context.Context, text string) (workshop.Todo, error) {
	now := t.options.now()
	correlationID := t.options.correlationID()

	provisional := workshop.Todo{
		Text:          text,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s, err := t.client.Session(); err == nil {
		provisional.UserIDs = []uuid.UUID{s.UserID}
	}

	var created workshop.Todo
	_, err := t.Mutate(ctx, optimistic.Entry[int64, workshop.Todo]{
		Value:         provisional,
		CorrelationID: correlationID,
	}, func(ctx context.Context) (workshop.Txid, error) {
		todo, txid, err := t.client.CreateTodo(ctx, text, correlationID)
		created = todo
		return txid, err
	})
	return created, err
}

func (t *Todos) SetCompleted(ctx context.Context, todo workshop.Todo, completed bool) error {
	todo.Completed = completed
	return t.update(ctx, todo, &completed, nil)
}

func (t *Todos) Rename(ctx context.Context, todo workshop.Todo, text string) error {
	todo.Text = text
	return t.update(ctx, todo, nil, &text)
}

func (t *Todos) update(ctx context.Context, todo workshop.Todo, completed *bool, text *string) error {
	todo.UpdatedAt = t.options.now()
	_, err := t.Mutate(ctx, optimistic.Entry[int64, workshop.Todo]{
		Key:    todo.ID,
		HasKey: true,
		Value:  todo,
	}, func(ctx context.Context) (workshop.Txid, error) {
		_, txid, err := t.client.UpdateTodo(ctx, todo.ID, completed, text)
		return txid, err
	})
	return err
}

func (t *Todos) Delete(ctx context.Context, todo workshop.Todo) error {
	_, err := t.Mutate(ctx, optimistic.Entry[int64, workshop.Todo]{
		Key:    todo.ID,
		HasKey: true,
		Delete: true,
	}, func(ctx context.Context) (workshop.Txid, error) {
		return t.client.DeleteTodo(ctx, todo.ID)
	})
	return err
}
