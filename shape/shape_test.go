package shape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrigin(t *testing.T) {
	for raw, expected := range map[string]string{
		"api.example.com":                  "https://api.example.com",
		"http://localhost:3000/v1/shape?x": "http://localhost:3000",
		"https://api.example.com/":         "https://api.example.com",
	} {
		origin, err := Origin(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, expected, origin.String(), raw)
	}

	_, err := Origin("https://")
	assert.Error(t, err)
}

func TestProxyTarget(t *testing.T) {
	p, err := NewProxy("api.example.com", "source", "secret")
	require.NoError(t, err)

	target := p.Target("todos", url.Values{
		"offset":        {"-1"},
		"table":         {"users"},
		"source_secret": {"guess"},
	})
	assert.Equal(t, "api.example.com", target.Host)
	assert.Equal(t, "/v1/shape", target.Path)

	q := target.Query()
	assert.Equal(t, "-1", q.Get("offset"))
	assert.Equal(t, "todos", q.Get("table"))
	assert.Equal(t, "source", q.Get("source_id"))
	assert.Equal(t, "secret", q.Get("source_secret"))

	assert.NotContains(t, redact(target), "secret&")
	assert.Contains(t, redact(target), "source_secret=REDACTED")
}

func TestProxyForwardsShape(t *testing.T) {
	backend := memory.New()
	_, _, err := backend.CreateTodo(context.Background(), workshop.NewTodo{Text: "buy milk"})
	require.NoError(t, err)

	var seen url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query()
		w.Header().Set("Access-Control-Allow-Origin", "https://elsewhere.example")
		backend.ServeHTTP(w, r)
	}))
	defer upstream.Close()

	p, err := NewProxy(upstream.URL, "source", "secret")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/shape/todos?offset=-1", nil)
	rec := httptest.NewRecorder()
	p.Handler(workshop.TableTodos).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", seen.Get("source_secret"))
	assert.Equal(t, "todos", seen.Get("table"))
	assert.NotEmpty(t, rec.Header().Get(workshop.HeaderShapeHandle))
	assert.Equal(t, "1_0", rec.Header().Get(workshop.HeaderShapeOffset))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	var messages []workshop.ChangeMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&messages))
	require.Len(t, messages, 2)
	assert.Equal(t, workshop.OpInsert, messages[0].Headers.Operation)
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	p, err := NewProxy(upstream.URL, "source", "secret")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.Handler(workshop.TableTodos).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shape/todos?offset=-1", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type todoRow struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func newTestStream(t *testing.T, backend *memory.Backend, table string) *Stream {
	t.Helper()
	server := httptest.NewServer(backend.ShapeHandler(table))
	t.Cleanup(server.Close)
	return NewStream(server.URL, WithBackoff(time.Millisecond, 10*time.Millisecond))
}

func TestStreamSnapshotAndCatchUp(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.WithLiveTimeout(50 * time.Millisecond))
	_, _, err := backend.CreateTodo(ctx, workshop.NewTodo{Text: "first"})
	require.NoError(t, err)

	stream := newTestStream(t, backend, workshop.TableTodos)
	require.NoError(t, stream.Poll(ctx))

	select {
	case <-stream.Ready():
	default:
		t.Fatal("stream should be up to date after the snapshot")
	}

	rows, err := Decode[todoRow](stream)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Text)

	second, txid, err := backend.CreateTodo(ctx, workshop.NewTodo{Text: "second"})
	require.NoError(t, err)
	_, _, err = backend.UpdateRow(ctx, mustTable(t, workshop.TableTodos), rows[0].ID, "text", "renamed")
	require.NoError(t, err)

	var batches [][]workshop.ChangeMessage
	unsubscribe := stream.Subscribe(func(messages []workshop.ChangeMessage) {
		batches = append(batches, messages)
	})
	defer unsubscribe()

	require.NoError(t, stream.Poll(ctx))
	require.Len(t, batches, 1)

	found := false
	for _, msg := range batches[0] {
		found = found || msg.HasTxid(txid)
	}
	assert.True(t, found, "catch-up batch carries the txid of the insert")

	rows, err = Decode[todoRow](stream)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "renamed", rows[0].Text)
	assert.Equal(t, second.ID, rows[1].ID)

	_, err = backend.DeleteTodo(ctx, second.ID)
	require.NoError(t, err)
	require.NoError(t, stream.Poll(ctx))

	rows, err = Decode[todoRow](stream)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStreamLiveRun(t *testing.T) {
	backend := memory.New(memory.WithLiveTimeout(time.Second))
	stream := newTestStream(t, backend, workshop.TableTodos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []workshop.Txid
	)
	got := make(chan struct{}, 1)
	stream.Subscribe(func(messages []workshop.ChangeMessage) {
		mu.Lock()
		defer mu.Unlock()
		for _, msg := range messages {
			seen = append(seen, msg.Headers.AllTxids()...)
		}
		if len(seen) > 0 {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	<-stream.Ready()
	_, txid, err := backend.CreateTodo(ctx, workshop.NewTodo{Text: "live"})
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("live poll did not deliver the insert")
	}
	mu.Lock()
	assert.Contains(t, seen, txid)
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStreamMustRefetch(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("offset") == "-1":
			w.Header().Set(workshop.HeaderShapeHandle, "h1")
			w.Header().Set(workshop.HeaderShapeOffset, "1_0")
			_, _ = w.Write([]byte(`[{"key":"\"public\".\"todos\"/\"1\"","value":{"id":1,"text":"a"},"headers":{"operation":"insert"}},{"headers":{"control":"up-to-date"}}]`))
		default:
			assert.Equal(t, "h1", q.Get("handle"))
			assert.Equal(t, "true", q.Get("live"))
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`[{"headers":{"control":"must-refetch"}}]`))
		}
	}))
	defer server.Close()

	ctx := context.Background()
	stream := NewStream(server.URL)
	require.NoError(t, stream.Poll(ctx))
	assert.Len(t, stream.Rows(), 1)

	require.NoError(t, stream.Poll(ctx))
	assert.Empty(t, stream.Rows())
	assert.Contains(t, stream.nextURL(), "offset=-1")
	assert.NotContains(t, stream.nextURL(), "live=true")
	assert.Equal(t, 2, calls)
}

func TestStreamUnsubscribe(t *testing.T) {
	stream := NewStream("http://unused")
	first := stream.Subscribe(func([]workshop.ChangeMessage) {})
	second := stream.Subscribe(func([]workshop.ChangeMessage) {})
	assert.Equal(t, 2, stream.Subscribers())

	first()
	first()
	assert.Equal(t, 1, stream.Subscribers())
	second()
	assert.Equal(t, 0, stream.Subscribers())
}

func TestMergeValues(t *testing.T) {
	merged := mergeValues(json.RawMessage(`{"id":1,"text":"a","completed":false}`), json.RawMessage(`{"id":1,"completed":true}`))

	var row map[string]any
	require.NoError(t, json.Unmarshal(merged, &row))
	assert.Equal(t, "a", row["text"])
	assert.Equal(t, true, row["completed"])
}

func mustTable(t *testing.T, name string) workshop.TableSpec {
	t.Helper()
	spec, err := workshop.LookupTable(name)
	require.NoError(t, err)
	return spec
}
