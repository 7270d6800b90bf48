package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getShape(t *testing.T, h http.Handler, query url.Values) (*http.Response, []workshop.ChangeMessage) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/v1/shape?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := rec.Result()
	var messages []workshop.ChangeMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	return resp, messages
}

func TestShapeSnapshot(t *testing.T) {
	backend := New()
	_, _, err := backend.CreateTodo(context.Background(), workshop.NewTodo{Text: "buy milk"})
	require.NoError(t, err)

	resp, messages := getShape(t, backend, url.Values{"table": {"todos"}, "offset": {"-1"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1_0", resp.Header.Get(workshop.HeaderShapeOffset))
	assert.NotEmpty(t, resp.Header.Get(workshop.HeaderShapeHandle))

	require.Len(t, messages, 2)
	assert.Equal(t, workshop.OpInsert, messages[0].Headers.Operation)
	assert.Equal(t, workshop.ControlUpToDate, messages[1].Headers.Control)

	var todo workshop.Todo
	require.NoError(t, json.Unmarshal(messages[0].Value, &todo))
	assert.Equal(t, "buy milk", todo.Text)
}

func TestShapeCatchUp(t *testing.T) {
	backend := New()
	h := backend.ShapeHandler(workshop.TableTodos)

	resp, messages := getShape(t, h, url.Values{"offset": {"-1"}})
	require.Len(t, messages, 1)
	handle := resp.Header.Get(workshop.HeaderShapeHandle)
	offset := resp.Header.Get(workshop.HeaderShapeOffset)

	todo, txid, err := backend.CreateTodo(context.Background(), workshop.NewTodo{Text: "buy milk"})
	require.NoError(t, err)
	_, _, err = backend.CreatePoll(context.Background(), workshop.NewPoll{Name: "other table"})
	require.NoError(t, err)

	resp, messages = getShape(t, h, url.Values{"offset": {offset}, "handle": {handle}})
	assert.Equal(t, "2_0", resp.Header.Get(workshop.HeaderShapeOffset))
	require.Len(t, messages, 2)
	assert.True(t, messages[0].HasTxid(txid))
	assert.Equal(t, workshop.MessageKey(workshop.TableTodos, todo.ID), messages[0].Key)

	_, messages = getShape(t, h, url.Values{"offset": {"2_0"}, "handle": {handle}})
	assert.Len(t, messages, 1, "only the up-to-date marker")
}

func TestShapeLongPoll(t *testing.T) {
	backend := New(WithLiveTimeout(5 * time.Second))
	h := backend.ShapeHandler(workshop.TableTodos)

	resp, _ := getShape(t, h, url.Values{"offset": {"-1"}})
	handle := resp.Header.Get(workshop.HeaderShapeHandle)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _, _ = backend.CreateTodo(context.Background(), workshop.NewTodo{Text: "later"})
	}()

	start := time.Now()
	_, messages := getShape(t, h, url.Values{"offset": {"0_0"}, "handle": {handle}, "live": {"true"}})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, messages, 2)
	assert.Equal(t, workshop.OpInsert, messages[0].Headers.Operation)
}

func TestShapeLiveTimeout(t *testing.T) {
	backend := New(WithLiveTimeout(20 * time.Millisecond))
	h := backend.ShapeHandler(workshop.TableTodos)

	resp, _ := getShape(t, h, url.Values{"offset": {"-1"}})
	handle := resp.Header.Get(workshop.HeaderShapeHandle)

	resp, messages := getShape(t, h, url.Values{"offset": {"0_0"}, "handle": {handle}, "live": {"true"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, messages, 1)
	assert.Equal(t, workshop.ControlUpToDate, messages[0].Headers.Control)
}

func TestShapeCloseEndsLongPoll(t *testing.T) {
	backend := New(WithLiveTimeout(time.Minute))
	h := backend.ShapeHandler(workshop.TableTodos)

	resp, _ := getShape(t, h, url.Values{"offset": {"-1"}})
	handle := resp.Header.Get(workshop.HeaderShapeHandle)

	go func() {
		time.Sleep(50 * time.Millisecond)
		backend.Close()
	}()

	start := time.Now()
	resp, messages := getShape(t, h, url.Values{"offset": {"0_0"}, "handle": {handle}, "live": {"true"}})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, messages, 1)
	assert.Equal(t, workshop.ControlUpToDate, messages[0].Headers.Control)

	backend.Close()
	_, _, err := backend.CreateTodo(context.Background(), workshop.NewTodo{Text: "still writable"})
	assert.NoError(t, err)
}

func TestShapeStaleHandle(t *testing.T) {
	backend := New()

	resp, messages := getShape(t, backend.ShapeHandler(workshop.TableTodos), url.Values{"offset": {"0_0"}, "handle": {"stale"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Len(t, messages, 1)
	assert.Equal(t, workshop.ControlMustRefetch, messages[0].Headers.Control)
}

func TestShapeUnknownTable(t *testing.T) {
	resp, _ := getShape(t, New(), url.Values{"table": {"secrets"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
