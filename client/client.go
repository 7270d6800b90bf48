// Package client is a typed HTTP client for the workshop API. Identity is an
// explicit Session value rather than ambient state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/game"
	"github.com/airheartdev/workshop/shape"
	"github.com/google/uuid"
)

var ErrNoSession = errors.New("client has no session")

type (
	Client struct {
		base    string
		http    *http.Client
		session *Session
	}

	// Session identifies the user on whose behalf requests are made.
	Session struct {
		UserID uuid.UUID `json:"user_id"`
		Name   string    `json:"name"`
	}

	Option func(c *Client)

	// APIError is a non-2xx response.
	APIError struct {
		Status  int
		Message string
		Detail  string
	}
)

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of err if it is an *APIError, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: http.DefaultClient,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithSession(s Session) Option {
	return func(c *Client) {
		c.session = &s
	}
}

// As returns a copy of c acting for s.
func (c *Client) As(s Session) *Client {
	clone := *c
	clone.session = &s
	return &clone
}

func (c *Client) Session() (Session, error) {
	if c.session == nil || c.session.UserID == uuid.Nil {
		return Session{}, ErrNoSession
	}
	return *c.session, nil
}

// Register creates a user and returns the session for it.
func (c *Client) Register(ctx context.Context, name string) (Session, error) {
	user, err := c.CreateUser(ctx, name)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: user.ID, Name: user.Name}, nil
}

// Stream follows the shape of table through the API's proxy.
func (c *Client) Stream(table string, options ...shape.StreamOption) *shape.Stream {
	options = append([]shape.StreamOption{shape.WithHTTPClient(c.http)}, options...)
	return shape.NewStream(c.base+"/shape/"+url.PathEscape(table), options...)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateTodo adds a todo owned by the session user, if any.
func (c *Client) CreateTodo(ctx context.Context, text, correlationID string) (workshop.Todo, workshop.Txid, error) {
	in := workshop.NewTodo{Text: text, CorrelationID: correlationID}
	if s, err := c.Session(); err == nil {
		in.UserID = &s.UserID
	}

	var out workshop.TodoResponse
	err := c.do(ctx, http.MethodPost, "/todos", in, &out)
	return out.Todo, out.Txid, err
}

func (c *Client) UpdateTodo(ctx context.Context, id int64, completed *bool, text *string) (workshop.Todo, workshop.Txid, error) {
	s, err := c.Session()
	if err != nil {
		return workshop.Todo{}, 0, err
	}

	var out workshop.TodoResponse
	err = c.do(ctx, http.MethodPatch, "/todos/"+strconv.FormatInt(id, 10), workshop.TodoPatch{
		Completed: completed,
		Text:      text,
		UserID:    s.UserID,
	}, &out)
	return out.Todo, out.Txid, err
}

func (c *Client) DeleteTodo(ctx context.Context, id int64) (workshop.Txid, error) {
	var out workshop.TxidResponse
	err := c.do(ctx, http.MethodDelete, "/todos/"+strconv.FormatInt(id, 10), nil, &out)
	return out.Txid, err
}

func (c *Client) GetRow(ctx context.Context, table, id string) (workshop.Row, error) {
	var out workshop.Row
	err := c.do(ctx, http.MethodGet, tablePath(table, id), nil, &out)
	return out, err
}

func (c *Client) UpdateRow(ctx context.Context, table, id, column string, value any) (workshop.Row, workshop.Txid, error) {
	var out workshop.RowResponse
	err := c.do(ctx, http.MethodPatch, tablePath(table, id), map[string]any{column: value}, &out)
	return out.Row, out.Txid, err
}

func (c *Client) ListTables(ctx context.Context) ([]workshop.TableMetadata, error) {
	var out workshop.TablesResponse
	err := c.do(ctx, http.MethodGet, "/tables", nil, &out)
	return out.Tables, err
}

func (c *Client) CreateUser(ctx context.Context, name string) (workshop.User, error) {
	var out workshop.User
	err := c.do(ctx, http.MethodPost, "/users", workshop.NewUser{Name: name}, &out)
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, id uuid.UUID, name string) (workshop.User, error) {
	var out workshop.User
	err := c.do(ctx, http.MethodPatch, "/users", workshop.UserPatch{ID: id, Name: name}, &out)
	return out, err
}

func (c *Client) ToggleCheckbox(ctx context.Context, id int64) (workshop.Txid, error) {
	s, err := c.Session()
	if err != nil {
		return 0, err
	}

	var out workshop.TxidResponse
	err = c.do(ctx, http.MethodPatch, "/checkboxes/"+strconv.FormatInt(id, 10), workshop.ToggleCheckbox{UserID: s.UserID}, &out)
	return out.Txid, err
}

func (c *Client) Leaderboard(ctx context.Context) (game.Stats, error) {
	var out game.Stats
	err := c.do(ctx, http.MethodGet, "/leaderboard", nil, &out)
	return out, err
}

func (c *Client) CreatePoll(ctx context.Context, in workshop.NewPoll) (workshop.Poll, workshop.Txid, error) {
	var out workshop.PollResponse
	err := c.do(ctx, http.MethodPost, "/polls", in, &out)
	return out.Poll, out.Txid, err
}

func (c *Client) Vote(ctx context.Context, pollID int64, correlationID string) (workshop.PollVote, workshop.Txid, error) {
	s, err := c.Session()
	if err != nil {
		return workshop.PollVote{}, 0, err
	}

	var out workshop.VoteResponse
	err = c.do(ctx, http.MethodPost, "/polls/"+strconv.FormatInt(pollID, 10)+"/votes", workshop.NewVote{
		UserID:        s.UserID,
		CorrelationID: correlationID,
	}, &out)
	return out.Vote, out.Txid, err
}

func tablePath(table, id string) string {
	return "/tables/" + url.PathEscape(table) + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e workshop.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			apiErr.Message = e.Message
			apiErr.Detail = e.Error
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
