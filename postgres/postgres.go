// Package postgres is the production Backend. Every mutating statement is
// wrapped in a CTE that also selects txid_current(), so the API can hand the
// committing transaction id back to the client.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/airheartdev/workshop"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schema string

const foreignKeyViolation = "23503"

type Backend struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

var _ workshop.Backend = (*Backend)(nil)

// Open connects to the database at url. maxConns of zero keeps the pool
// default.
func Open(ctx context.Context, url string, maxConns int32, logger logrus.FieldLogger) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger.Infof("Connected to Postgres at %s", cfg.ConnConfig.Host)
	return &Backend{pool: pool, logger: logger}, nil
}

func (b *Backend) Close() {
	b.pool.Close()
}

// Migrate creates the workshop tables and the toggle_checkbox function.
func (b *Backend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const todoColumns = `id, text, completed, user_ids::text[], COALESCE(correlation_id, ''), created_at, updated_at`

func (b *Backend) CreateTodo(ctx context.Context, in workshop.NewTodo) (workshop.Todo, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.Todo{}, 0, err
	}

	userID := ""
	if in.UserID != nil {
		userID = in.UserID.String()
	}

	row := b.pool.QueryRow(ctx, `
		WITH new_todo AS (
			INSERT INTO todos (text, user_ids, correlation_id)
			VALUES (
				$1,
				CASE WHEN $2::text = '' THEN '{}'::uuid[] ELSE ARRAY[$2::text::uuid] END,
				NULLIF($3::text, '')
			)
			RETURNING *
		)
		SELECT `+todoColumns+`, txid_current() AS txid
		FROM new_todo`,
		in.Text, userID, in.CorrelationID)

	return scanTodo(row)
}

func (b *Backend) UpdateTodo(ctx context.Context, id int64, patch workshop.TodoPatch) (workshop.Todo, workshop.Txid, error) {
	if err := patch.Validate(); err != nil {
		return workshop.Todo{}, 0, err
	}

	row := b.pool.QueryRow(ctx, `
		WITH updated_row AS (
			UPDATE todos
			SET text = COALESCE($1::text, text),
				completed = COALESCE($2::boolean, completed),
				user_ids = array_append(user_ids, $3::text::uuid),
				updated_at = now()
			WHERE id = $4
			RETURNING *
		)
		SELECT `+todoColumns+`, txid_current() AS txid
		FROM updated_row`,
		patch.Text, patch.Completed, patch.UserID.String(), id)

	return scanTodo(row)
}

func (b *Backend) DeleteTodo(ctx context.Context, id int64) (workshop.Txid, error) {
	var txid int64
	err := b.pool.QueryRow(ctx, `
		WITH deleted_todo AS (
			DELETE FROM todos
			WHERE id = $1
			RETURNING id
		)
		SELECT txid_current() AS txid
		FROM deleted_todo`, id).Scan(&txid)
	if err != nil {
		return 0, translate(err)
	}
	return workshop.Txid(txid), nil
}

func (b *Backend) GetRow(ctx context.Context, spec workshop.TableSpec, id any) (workshop.Row, error) {
	if key, ok := id.(uuid.UUID); ok {
		id = key.String()
	}

	var data []byte
	if err := b.pool.QueryRow(ctx, getRowQuery(spec), id).Scan(&data); err != nil {
		return nil, translate(err)
	}

	row := workshop.Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}

func getRowQuery(spec workshop.TableSpec) string {
	key := "$1"
	if spec.Key == workshop.KeyUUID {
		key = "$1::text::uuid"
	}
	return fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE t.id = %s`, pgx.Identifier{spec.Name}.Sanitize(), key)
}

// UpdateRow sets one allow-listed column. Identifiers are quoted, values are
// always bound as parameters.
func (b *Backend) UpdateRow(ctx context.Context, spec workshop.TableSpec, id any, column string, value any) (workshop.Row, workshop.Txid, error) {
	query, err := updateRowQuery(spec, column)
	if err != nil {
		return nil, 0, err
	}
	if key, ok := id.(uuid.UUID); ok {
		id = key.String()
	}

	var (
		data []byte
		txid int64
	)
	if err := b.pool.QueryRow(ctx, query, value, id).Scan(&data, &txid); err != nil {
		return nil, 0, translate(err)
	}

	row := workshop.Row{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, 0, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, workshop.Txid(txid), nil
}

func updateRowQuery(spec workshop.TableSpec, column string) (string, error) {
	if _, ok := spec.Updatable[column]; !ok {
		return "", workshop.ErrUnknownColumn
	}

	key := "$2"
	if spec.Key == workshop.KeyUUID {
		key = "$2::text::uuid"
	}

	return fmt.Sprintf(`
		WITH updated_row AS (
			UPDATE %s
			SET %s = $1,
				updated_at = now()
			WHERE id = %s
			RETURNING *
		)
		SELECT to_jsonb(updated_row), txid_current() AS txid
		FROM updated_row`,
		pgx.Identifier{spec.Name}.Sanitize(),
		pgx.Identifier{column}.Sanitize(),
		key,
	), nil
}

func (b *Backend) ListTables(ctx context.Context) ([]workshop.TableMetadata, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			t.table_name,
			json_agg(json_build_object(
				'column_name', c.column_name,
				'data_type', c.data_type,
				'is_nullable', c.is_nullable = 'YES',
				'column_default', c.column_default,
				'is_identity', c.is_identity = 'YES'
			)) AS columns
		FROM information_schema.tables t
		JOIN information_schema.columns c ON t.table_name = c.table_name
		WHERE t.table_schema = 'public'
			AND t.table_name NOT LIKE 'atdatabases%'
		GROUP BY t.table_name
		ORDER BY t.table_name`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (workshop.TableMetadata, error) {
		var (
			meta    workshop.TableMetadata
			columns []byte
		)
		if err := row.Scan(&meta.TableName, &columns); err != nil {
			return meta, err
		}
		if err := json.Unmarshal(columns, &meta.Columns); err != nil {
			return meta, fmt.Errorf("failed to decode columns of %s: %w", meta.TableName, err)
		}
		return meta, nil
	})
}

const userColumns = `id::text, name, created_at, updated_at`

func (b *Backend) CreateUser(ctx context.Context, name string) (workshop.User, error) {
	if err := (workshop.NewUser{Name: name}).Validate(); err != nil {
		return workshop.User{}, err
	}
	row := b.pool.QueryRow(ctx, `
		INSERT INTO users (name)
		VALUES ($1)
		RETURNING `+userColumns, name)
	return scanUser(row)
}

func (b *Backend) UpdateUser(ctx context.Context, id uuid.UUID, name string) (workshop.User, error) {
	if err := (workshop.UserPatch{ID: id, Name: name}).Validate(); err != nil {
		return workshop.User{}, err
	}
	row := b.pool.QueryRow(ctx, `
		UPDATE users
		SET name = $1, updated_at = now()
		WHERE id = $2::text::uuid
		RETURNING `+userColumns, name, id.String())
	return scanUser(row)
}

func (b *Backend) ListUsers(ctx context.Context) ([]workshop.User, error) {
	rows, err := b.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (workshop.User, error) {
		return scanUser(row)
	})
}

func (b *Backend) ToggleCheckbox(ctx context.Context, id int64, userID uuid.UUID) (workshop.Checkbox, workshop.Txid, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, checked, user_id::text, created_at, updated_at, txid
		FROM toggle_checkbox($1, $2::text::uuid)`, id, userID.String())

	var txid int64
	box, err := scanCheckbox(row, &txid)
	if err != nil {
		return workshop.Checkbox{}, 0, err
	}
	return box, workshop.Txid(txid), nil
}

func (b *Backend) ListCheckboxes(ctx context.Context) ([]workshop.Checkbox, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, checked, user_id::text, created_at, updated_at
		FROM checkboxes
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (workshop.Checkbox, error) {
		return scanCheckbox(row)
	})
}

func (b *Backend) CreatePoll(ctx context.Context, in workshop.NewPoll) (workshop.Poll, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.Poll{}, 0, err
	}

	var (
		poll workshop.Poll
		txid int64
	)
	err := b.pool.QueryRow(ctx, `
		WITH new_poll AS (
			INSERT INTO polls (name, x, y)
			VALUES ($1, $2, $3)
			RETURNING *
		)
		SELECT id, name, x, y, created_at, updated_at, txid_current() AS txid
		FROM new_poll`, in.Name, in.X, in.Y).
		Scan(&poll.ID, &poll.Name, &poll.X, &poll.Y, &poll.CreatedAt, &poll.UpdatedAt, &txid)
	if err != nil {
		return workshop.Poll{}, 0, translate(err)
	}
	return poll, workshop.Txid(txid), nil
}

func (b *Backend) CreateVote(ctx context.Context, in workshop.NewVote) (workshop.PollVote, workshop.Txid, error) {
	if err := in.Validate(); err != nil {
		return workshop.PollVote{}, 0, err
	}

	var (
		vote   workshop.PollVote
		userID string
		txid   int64
	)
	err := b.pool.QueryRow(ctx, `
		WITH new_vote AS (
			INSERT INTO poll_votes (poll_id, user_id, correlation_id)
			VALUES ($1, $2::text::uuid, NULLIF($3::text, ''))
			RETURNING *
		)
		SELECT id, poll_id, user_id::text, COALESCE(correlation_id, ''), created_at, updated_at, txid_current() AS txid
		FROM new_vote`, in.PollID, in.UserID.String(), in.CorrelationID).
		Scan(&vote.ID, &vote.PollID, &userID, &vote.CorrelationID, &vote.CreatedAt, &vote.UpdatedAt, &txid)
	if err != nil {
		return workshop.PollVote{}, 0, translate(err)
	}
	if vote.UserID, err = uuid.Parse(userID); err != nil {
		return workshop.PollVote{}, 0, err
	}
	return vote, workshop.Txid(txid), nil
}

func scanTodo(row pgx.Row) (workshop.Todo, workshop.Txid, error) {
	var (
		todo    workshop.Todo
		userIDs []string
		txid    int64
	)
	err := row.Scan(&todo.ID, &todo.Text, &todo.Completed, &userIDs, &todo.CorrelationID, &todo.CreatedAt, &todo.UpdatedAt, &txid)
	if err != nil {
		return workshop.Todo{}, 0, translate(err)
	}

	todo.UserIDs = make([]uuid.UUID, 0, len(userIDs))
	for _, s := range userIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return workshop.Todo{}, 0, err
		}
		todo.UserIDs = append(todo.UserIDs, id)
	}
	return todo, workshop.Txid(txid), nil
}

func scanUser(row pgx.Row) (workshop.User, error) {
	var (
		user workshop.User
		id   string
	)
	if err := row.Scan(&id, &user.Name, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return workshop.User{}, translate(err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return workshop.User{}, err
	}
	user.ID = parsed
	return user, nil
}

func scanCheckbox(row pgx.Row, extra ...any) (workshop.Checkbox, error) {
	var (
		box   workshop.Checkbox
		owner *string
	)
	dest := append([]any{&box.ID, &box.Checked, &owner, &box.CreatedAt, &box.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return workshop.Checkbox{}, translate(err)
	}
	if owner != nil {
		id, err := uuid.Parse(*owner)
		if err != nil {
			return workshop.Checkbox{}, err
		}
		box.UserID = &id
	}
	return box, nil
}

// translate maps driver errors onto the workshop error taxonomy.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return workshop.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w", pgErr.Detail, workshop.ErrNotFound)
	}
	return err
}
