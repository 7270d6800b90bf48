package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/client"
	"github.com/airheartdev/workshop/memory"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/optimistic"
	"github.com/airheartdev/workshop/shape"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeSource holds rows by key and fans out batches synchronously.
type fakeSource struct {
	mu   sync.Mutex
	rows []json.RawMessage
	subs map[int]func([]workshop.ChangeMessage)
	next int
}

func newFakeSource(rows ...any) *fakeSource {
	s := &fakeSource{subs: map[int]func([]workshop.ChangeMessage){}}
	for _, r := range rows {
		s.rows = append(s.rows, mustJSON(r))
	}
	return s
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (s *fakeSource) Subscribe(fn func([]workshop.ChangeMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeSource) Rows() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.rows...)
}

// commit replaces the rows and announces txid.
func (s *fakeSource) commit(txid workshop.Txid, rows ...any) {
	s.mu.Lock()
	s.rows = nil
	for _, r := range rows {
		s.rows = append(s.rows, mustJSON(r))
	}
	subs := make([]func([]workshop.ChangeMessage), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn([]workshop.ChangeMessage{{Headers: workshop.Headers{Operation: workshop.OpInsert, Txid: &txid}}})
	}
}

func TestCollectionShowsPendingUntilConfirmed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := workshop.Todo{ID: 1, Text: "existing", CreatedAt: base}
	source := newFakeSource(existing)
	todos := NewCollection(source, mutation.New(mutation.WithLogger(quietLogger())), TodoMerger())

	entry := optimistic.Entry[int64, workshop.Todo]{
		CorrelationID: "c1",
		Value:         workshop.Todo{Text: "buy milk", CorrelationID: "c1", CreatedAt: base.Add(time.Second)},
	}
	txid, err := todos.Mutate(context.Background(), entry, func(ctx context.Context) (workshop.Txid, error) {
		view, err := todos.View()
		require.NoError(t, err)
		require.Len(t, view, 2)
		assert.Equal(t, "buy milk", view[1].Text)
		assert.Zero(t, view[1].ID, "provisional rows have no id")
		assert.Len(t, todos.Pending(), 1)

		source.commit(7, existing, workshop.Todo{ID: 2, Text: "buy milk", CorrelationID: "c1", CreatedAt: base.Add(2 * time.Second)})
		view, err = todos.View()
		require.NoError(t, err)
		assert.Len(t, view, 2, "the confirmed row absorbs the pending entry")
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, workshop.Txid(7), txid)
	assert.Empty(t, todos.Pending())

	view, err := todos.View()
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.Equal(t, int64(2), view[1].ID)
}

func TestCollectionPendingDelete(t *testing.T) {
	source := newFakeSource(workshop.Todo{ID: 1, Text: "a"}, workshop.Todo{ID: 2, Text: "b"})
	todos := NewCollection(source, mutation.New(mutation.WithLogger(quietLogger())), TodoMerger())

	_, err := todos.Mutate(context.Background(), optimistic.Entry[int64, workshop.Todo]{Key: 1, HasKey: true, Delete: true},
		func(ctx context.Context) (workshop.Txid, error) {
			view, err := todos.View()
			require.NoError(t, err)
			require.Len(t, view, 1)
			assert.Equal(t, "b", view[0].Text)
			return 0, errors.New("boom")
		})
	assert.ErrorIs(t, err, mutation.ErrMutationFailed)

	view, err := todos.View()
	require.NoError(t, err)
	assert.Len(t, view, 2, "a failed delete is rolled back")
	assert.Empty(t, todos.Pending())
}

func TestCollectionTimeoutRetiresEntry(t *testing.T) {
	source := newFakeSource()
	todos := NewCollection(source, mutation.New(mutation.WithTimeout(10*time.Millisecond), mutation.WithLogger(quietLogger())), TodoMerger())

	_, err := todos.Mutate(context.Background(), optimistic.Entry[int64, workshop.Todo]{Value: workshop.Todo{Text: "lost"}},
		func(ctx context.Context) (workshop.Txid, error) { return 99, nil })
	assert.ErrorIs(t, err, mutation.ErrConfirmationTimeout)
	assert.Empty(t, todos.Pending())
}

func TestTodoMergerHeuristic(t *testing.T) {
	ada := uuid.New()
	confirmed := []workshop.Todo{{ID: 4, Text: "buy milk", UserIDs: []uuid.UUID{ada}}}
	pending := []optimistic.Entry[int64, workshop.Todo]{
		{MutationID: "m1", Value: workshop.Todo{Text: "buy milk", UserIDs: []uuid.UUID{ada}}},
	}
	assert.Len(t, TodoMerger().Merge(confirmed, pending), 1)

	pending[0].Value.UserIDs = []uuid.UUID{uuid.New()}
	assert.Len(t, TodoMerger().Merge(confirmed, pending), 2)
}

func TestTodoMergerTiesKeepInsertionOrder(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	confirmed := []workshop.Todo{
		{ID: 9, Text: "first", CreatedAt: now},
		{ID: 2, Text: "second", CreatedAt: now},
	}
	pending := []optimistic.Entry[int64, workshop.Todo]{
		{MutationID: "m1", Value: workshop.Todo{Text: "provisional", CorrelationID: "c1", CreatedAt: now}, CorrelationID: "c1"},
	}

	merged := TodoMerger().Merge(confirmed, pending)
	texts := make([]string, len(merged))
	for i, todo := range merged {
		texts[i] = todo.Text
	}
	assert.Equal(t, []string{"first", "second", "provisional"}, texts)
}

func TestVoteMergerWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	user := uuid.New()
	confirmed := []workshop.PollVote{{ID: 1, PollID: 3, UserID: user, CreatedAt: now.Add(800 * time.Millisecond)}}
	pending := []optimistic.Entry[int64, workshop.PollVote]{
		{MutationID: "m1", Value: workshop.PollVote{PollID: 3, UserID: user, CreatedAt: now}},
	}
	merged := VoteMerger().Merge(confirmed, pending)
	require.Len(t, merged, 1)
	assert.Equal(t, int64(1), merged[0].ID)

	pending[0].Value.CreatedAt = now.Add(-time.Second)
	assert.Len(t, VoteMerger().Merge(confirmed, pending), 2)

	pending[0].Value.CreatedAt = now
	pending[0].Value.PollID = 4
	assert.Len(t, VoteMerger().Merge(confirmed, pending), 2)
}

type stack struct {
	ctx         context.Context
	client      *client.Client
	coordinator *mutation.Coordinator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := quietLogger()
	backend := memory.New(memory.WithLiveTimeout(100*time.Millisecond), memory.WithLogger(logger))
	api := workshop.New(backend, workshop.WithLogger(logger), workshop.WithShapes(backend.ShapeHandler))
	server := httptest.NewServer(api.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &stack{
		ctx:         ctx,
		client:      client.New(server.URL),
		coordinator: mutation.New(mutation.WithTimeout(5*time.Second), mutation.WithLogger(logger)),
	}
}

func (s *stack) stream(t *testing.T, table string) *shape.Stream {
	t.Helper()
	stream := s.client.Stream(table, shape.WithStreamLogger(quietLogger()))
	go func() { _ = stream.Run(s.ctx) }()

	select {
	case <-stream.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s stream never caught up", table)
	}
	return stream
}

func TestTodosFlow(t *testing.T) {
	s := newStack(t)
	session, err := s.client.Register(s.ctx, "ada")
	require.NoError(t, err)

	todos := NewTodos(s.client.As(session), s.stream(t, workshop.TableTodos), s.coordinator)

	created, err := todos.Add(s.ctx, "buy milk")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.CorrelationID)

	view, err := todos.View()
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, created.ID, view[0].ID)
	assert.Empty(t, todos.Pending())

	require.NoError(t, todos.SetCompleted(s.ctx, view[0], true))
	require.NoError(t, todos.Rename(s.ctx, view[0], "buy oat milk"))
	view, err = todos.View()
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.True(t, view[0].Completed)
	assert.Equal(t, "buy oat milk", view[0].Text)

	require.NoError(t, todos.Delete(s.ctx, view[0]))
	view, err = todos.View()
	require.NoError(t, err)
	assert.Empty(t, view)
}

func TestTodosHeuristicFlow(t *testing.T) {
	s := newStack(t)
	todos := NewTodos(s.client, s.stream(t, workshop.TableTodos), s.coordinator, WithHeuristicMatching())

	created, err := todos.Add(s.ctx, "no correlation")
	require.NoError(t, err)
	assert.Empty(t, created.CorrelationID)

	view, err := todos.View()
	require.NoError(t, err)
	assert.Len(t, view, 1)
}

func TestCheckboxesFlow(t *testing.T) {
	s := newStack(t)
	session, err := s.client.Register(s.ctx, "ada")
	require.NoError(t, err)

	users := s.stream(t, workshop.TableUsers)
	boxes := NewCheckboxes(s.client.As(session), s.stream(t, workshop.TableCheckboxes), users, s.coordinator)

	_, err = NewCheckboxes(s.client, boxes.source, users, s.coordinator).Toggle(s.ctx, 1)
	assert.ErrorIs(t, err, client.ErrNoSession)

	for _, id := range []int64{1, 2, 51} {
		box, err := boxes.Toggle(s.ctx, id)
		require.NoError(t, err)
		assert.True(t, box.OwnedBy(session.UserID))
	}

	stats, err := boxes.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChecked)
	require.Len(t, stats.UserStats, 1)
	assert.Equal(t, "ada", stats.UserStats[0].Name)
	assert.Equal(t, 5, stats.UserStats[0].Score)

	box, err := boxes.Toggle(s.ctx, 51)
	require.NoError(t, err)
	assert.False(t, box.Checked)

	stats, err = boxes.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UserStats[0].Score)
}

func TestPollsFlow(t *testing.T) {
	s := newStack(t)
	session, err := s.client.Register(s.ctx, "ada")
	require.NoError(t, err)

	polls := NewPolls(s.client.As(session), s.stream(t, workshop.TablePolls), s.stream(t, workshop.TablePollVotes), s.coordinator)

	poll, err := polls.Create(s.ctx, workshop.NewPoll{Name: "lunch", X: 1, Y: 2})
	require.NoError(t, err)

	view, err := polls.View()
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, "lunch", view[0].Name)

	vote, err := polls.Vote(s.ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.ID, vote.PollID)

	tally, err := polls.Tally()
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{poll.ID: 1}, tally)

	votes, err := polls.Votes()
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, vote.ID, votes[0].ID)
}
