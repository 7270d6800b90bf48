package workshop

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

const (
	TableTodos      = "todos"
	TableUsers      = "users"
	TableCheckboxes = "checkboxes"
	TablePolls      = "polls"
	TablePollVotes  = "poll_votes"
)

type KeyKind int

const (
	KeyInt KeyKind = iota
	KeyUUID
)

type ColumnKind int

const (
	ColumnText ColumnKind = iota
	ColumnBool
	ColumnNumber
)

// TableSpec describes a replicated table and the columns clients may update
// through the generic row endpoint.
type TableSpec struct {
	Name      string
	Key       KeyKind
	Updatable map[string]ColumnKind
}

var tables = map[string]TableSpec{
	TableTodos: {
		Name: TableTodos,
		Key:  KeyInt,
		Updatable: map[string]ColumnKind{
			"text":      ColumnText,
			"completed": ColumnBool,
		},
	},
	TableUsers: {
		Name:      TableUsers,
		Key:       KeyUUID,
		Updatable: map[string]ColumnKind{"name": ColumnText},
	},
	TableCheckboxes: {
		Name:      TableCheckboxes,
		Key:       KeyInt,
		Updatable: map[string]ColumnKind{"checked": ColumnBool},
	},
	TablePolls: {
		Name: TablePolls,
		Key:  KeyInt,
		Updatable: map[string]ColumnKind{
			"name": ColumnText,
			"x":    ColumnNumber,
			"y":    ColumnNumber,
		},
	},
	TablePollVotes: {
		Name: TablePollVotes,
		Key:  KeyInt,
	},
}

func LookupTable(name string) (TableSpec, error) {
	t, ok := tables[name]
	if !ok {
		return TableSpec{}, ErrUnknownTable
	}
	return t, nil
}

// ShapeTables lists the tables clients may subscribe to.
func ShapeTables() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseID converts a path segment into the table's key type: int64 or
// uuid.UUID.
func (t TableSpec) ParseID(s string) (any, error) {
	switch t.Key {
	case KeyUUID:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, invalid("id", "must be a uuid")
		}
		return id, nil
	default:
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, invalid("id", "must be an integer")
		}
		return id, nil
	}
}

// ColumnValue checks that column is updatable and decodes raw into its Go
// type: string, bool or float64.
func (t TableSpec) ColumnValue(column string, raw json.RawMessage) (any, error) {
	kind, ok := t.Updatable[column]
	if !ok {
		return nil, ErrUnknownColumn
	}

	switch kind {
	case ColumnBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, invalid(column, "must be a boolean")
		}
		return b, nil
	case ColumnNumber:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, invalid(column, "must be a number")
		}
		return f, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalid(column, "must be a string")
		}
		if s == "" {
			return nil, invalid(column, "must not be empty")
		}
		return s, nil
	}
}
