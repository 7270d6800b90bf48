package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/airheartdev/workshop"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestUpdateRowQuery(t *testing.T) {
	todos, err := workshop.LookupTable(workshop.TableTodos)
	require.NoError(t, err)

	query, err := updateRowQuery(todos, "completed")
	require.NoError(t, err)
	assert.Contains(t, query, `UPDATE "todos"`)
	assert.Contains(t, query, `SET "completed" = $1`)
	assert.Contains(t, query, `WHERE id = $2`)

	users, err := workshop.LookupTable(workshop.TableUsers)
	require.NoError(t, err)
	query, err = updateRowQuery(users, "name")
	require.NoError(t, err)
	assert.Contains(t, query, `WHERE id = $2::text::uuid`)

	_, err = updateRowQuery(todos, `text = 'x'; DROP TABLE todos; --`)
	assert.ErrorIs(t, err, workshop.ErrUnknownColumn)
}

func TestSchemaIsEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE OR REPLACE FUNCTION toggle_checkbox")
	assert.Contains(t, schema, "generate_series(1, 1000)")
}

// PostgresSuite runs against a disposable database named by
// WORKSHOP_TEST_DATABASE_URL.
type PostgresSuite struct {
	suite.Suite
	ctx     context.Context
	backend *Backend
}

func TestPostgresSuite(t *testing.T) {
	url := os.Getenv("WORKSHOP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WORKSHOP_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	backend, err := Open(ctx, url, 4, logrus.New())
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, backend.Migrate(ctx))

	suite.Run(t, &PostgresSuite{ctx: ctx, backend: backend})
}

func (s *PostgresSuite) TestTodoLifecycle() {
	user, err := s.backend.CreateUser(s.ctx, "ada")
	s.Require().NoError(err)

	todo, txid, err := s.backend.CreateTodo(s.ctx, workshop.NewTodo{Text: "buy milk", UserID: &user.ID, CorrelationID: uuid.NewString()})
	s.Require().NoError(err)
	s.Equal("buy milk", todo.Text)
	s.Equal([]uuid.UUID{user.ID}, todo.UserIDs)
	s.NotZero(txid)

	done := true
	updated, txid2, err := s.backend.UpdateTodo(s.ctx, todo.ID, workshop.TodoPatch{Completed: &done, UserID: user.ID})
	s.Require().NoError(err)
	s.True(updated.Completed)
	s.Len(updated.UserIDs, 2)
	s.NotEqual(txid, txid2)

	_, err = s.backend.DeleteTodo(s.ctx, todo.ID)
	s.NoError(err)
	_, err = s.backend.DeleteTodo(s.ctx, todo.ID)
	s.ErrorIs(err, workshop.ErrNotFound)
}

func (s *PostgresSuite) TestUpdateRow() {
	todos, _ := workshop.LookupTable(workshop.TableTodos)
	todo, _, err := s.backend.CreateTodo(s.ctx, workshop.NewTodo{Text: "row"})
	s.Require().NoError(err)

	row, _, err := s.backend.UpdateRow(s.ctx, todos, todo.ID, "text", "renamed")
	s.Require().NoError(err)
	s.Equal("renamed", row["text"])

	_, _, err = s.backend.UpdateRow(s.ctx, todos, int64(-1), "text", "x")
	s.ErrorIs(err, workshop.ErrNotFound)
}

func (s *PostgresSuite) TestToggleCheckbox() {
	user, err := s.backend.CreateUser(s.ctx, "player")
	s.Require().NoError(err)

	box, _, err := s.backend.ToggleCheckbox(s.ctx, 500, user.ID)
	s.Require().NoError(err)
	s.True(box.OwnedBy(user.ID), "a new player always claims the box")

	box, _, err = s.backend.ToggleCheckbox(s.ctx, 500, user.ID)
	s.Require().NoError(err)
	s.False(box.Checked)
	s.Nil(box.UserID)

	_, _, err = s.backend.ToggleCheckbox(s.ctx, 5000, user.ID)
	s.ErrorIs(err, workshop.ErrNotFound)
}

func (s *PostgresSuite) TestListTables() {
	tables, err := s.backend.ListTables(s.ctx)
	s.Require().NoError(err)

	names := map[string]bool{}
	for _, t := range tables {
		names[t.TableName] = true
	}
	for _, name := range workshop.ShapeTables() {
		s.True(names[name], name)
	}
}
