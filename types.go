package workshop

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Txid is the transaction identifier the row store assigns to a committed
// write. It is echoed in API responses and in change message headers.
type Txid int64

// UnmarshalJSON accepts both JSON numbers and numeric strings, since the
// change-stream service serialises large txids as strings.
func (t *Txid) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid txid %q: %w", s, err)
		}
		*t = Txid(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid txid %s: %w", string(b), err)
	}
	*t = Txid(n)
	return nil
}

type (
	Todo struct {
		ID            int64       `json:"id"`
		Text          string      `json:"text"`
		Completed     bool        `json:"completed"`
		UserIDs       []uuid.UUID `json:"user_ids"`
		CorrelationID string      `json:"correlation_id,omitempty"`
		CreatedAt     time.Time   `json:"created_at"`
		UpdatedAt     time.Time   `json:"updated_at"`
	}

	User struct {
		ID        uuid.UUID `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	Checkbox struct {
		ID        int64      `json:"id"`
		Checked   bool       `json:"checked"`
		UserID    *uuid.UUID `json:"user_id"`
		CreatedAt time.Time  `json:"created_at"`
		UpdatedAt time.Time  `json:"updated_at"`
	}

	Poll struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		X         float64   `json:"x"`
		Y         float64   `json:"y"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	PollVote struct {
		ID            int64     `json:"id"`
		PollID        int64     `json:"poll_id"`
		UserID        uuid.UUID `json:"user_id"`
		CorrelationID string    `json:"correlation_id,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
		UpdatedAt     time.Time `json:"updated_at"`
	}

	// Row is a table row of any shape, keyed by column name.
	Row map[string]any

	TableMetadata struct {
		TableName string   `json:"table_name"`
		Columns   []Column `json:"columns"`
	}

	Column struct {
		ColumnName    string  `json:"column_name"`
		DataType      string  `json:"data_type"`
		IsNullable    bool    `json:"is_nullable"`
		ColumnDefault *string `json:"column_default"`
		IsIdentity    bool    `json:"is_identity"`
	}
)

// FirstOwner returns the user who created the todo, if known.
func (t Todo) FirstOwner() (uuid.UUID, bool) {
	if len(t.UserIDs) == 0 {
		return uuid.Nil, false
	}
	return t.UserIDs[0], true
}

// OwnedBy reports whether the box is checked and owned by userID.
func (c Checkbox) OwnedBy(userID uuid.UUID) bool {
	return c.Checked && c.UserID != nil && *c.UserID == userID
}

// Toggled returns the state the box takes when userID clicks it: a box the
// user already owns is released, any other box is claimed.
func (c Checkbox) Toggled(userID uuid.UUID, now time.Time) Checkbox {
	next := c
	if c.OwnedBy(userID) {
		next.Checked = false
		next.UserID = nil
	} else {
		owner := userID
		next.Checked = true
		next.UserID = &owner
	}
	next.UpdatedAt = now
	return next
}
