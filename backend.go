package workshop

import (
	"context"

	"github.com/google/uuid"
)

type (
	// Backend is the row store behind the API. Every mutation returns the
	// txid of the transaction that committed it.
	Backend interface {
		CreateTodo(ctx context.Context, in NewTodo) (Todo, Txid, error)
		UpdateTodo(ctx context.Context, id int64, patch TodoPatch) (Todo, Txid, error)
		DeleteTodo(ctx context.Context, id int64) (Txid, error)

		GetRow(ctx context.Context, table TableSpec, id any) (Row, error)
		UpdateRow(ctx context.Context, table TableSpec, id any, column string, value any) (Row, Txid, error)
		ListTables(ctx context.Context) ([]TableMetadata, error)

		CreateUser(ctx context.Context, name string) (User, error)
		UpdateUser(ctx context.Context, id uuid.UUID, name string) (User, error)
		ListUsers(ctx context.Context) ([]User, error)

		ToggleCheckbox(ctx context.Context, id int64, userID uuid.UUID) (Checkbox, Txid, error)
		ListCheckboxes(ctx context.Context) ([]Checkbox, error)

		CreatePoll(ctx context.Context, in NewPoll) (Poll, Txid, error)
		CreateVote(ctx context.Context, in NewVote) (PollVote, Txid, error)
	}

	NewTodo struct {
		Text          string     `json:"text"`
		UserID        *uuid.UUID `json:"user_id,omitempty"`
		CorrelationID string     `json:"correlation_id,omitempty"`
	}

	TodoPatch struct {
		Completed *bool     `json:"completed,omitempty"`
		Text      *string   `json:"text,omitempty"`
		UserID    uuid.UUID `json:"user_id"`
	}

	NewUser struct {
		Name string `json:"name"`
	}

	UserPatch struct {
		ID   uuid.UUID `json:"id"`
		Name string    `json:"name"`
	}

	ToggleCheckbox struct {
		UserID uuid.UUID `json:"user_id"`
	}

	NewPoll struct {
		Name string  `json:"name"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}

	NewVote struct {
		PollID        int64     `json:"-"`
		UserID        uuid.UUID `json:"user_id"`
		CorrelationID string    `json:"correlation_id,omitempty"`
	}
)

func (t NewTodo) Validate() error {
	if t.Text == "" {
		return invalid("text", "must not be empty")
	}
	if t.UserID != nil && *t.UserID == uuid.Nil {
		return invalid("user_id", "must be a uuid")
	}
	return nil
}

func (p TodoPatch) Validate() error {
	if p.UserID == uuid.Nil {
		return invalid("user_id", "is required")
	}
	if p.Completed == nil && p.Text == nil {
		return invalid("", "nothing to update")
	}
	if p.Text != nil && *p.Text == "" {
		return invalid("text", "must not be empty")
	}
	return nil
}

func (u NewUser) Validate() error {
	if u.Name == "" {
		return invalid("name", "must not be empty")
	}
	return nil
}

func (u UserPatch) Validate() error {
	if u.ID == uuid.Nil {
		return invalid("id", "is required")
	}
	if u.Name == "" {
		return invalid("name", "must not be empty")
	}
	return nil
}

func (t ToggleCheckbox) Validate() error {
	if t.UserID == uuid.Nil {
		return invalid("user_id", "is required")
	}
	return nil
}

func (p NewPoll) Validate() error {
	if p.Name == "" {
		return invalid("name", "must not be empty")
	}
	return nil
}

func (v NewVote) Validate() error {
	if v.UserID == uuid.Nil {
		return invalid("user_id", "is required")
	}
	return nil
}
