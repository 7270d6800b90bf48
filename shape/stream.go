package shape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/sirupsen/logrus"
)

type (
	// Stream follows one shape. Each response batch is applied to the local
	// snapshot first and then handed to every subscriber, so a subscriber
	// that sees a txid can read its rows from the snapshot.
	Stream struct {
		url        string
		params     url.Values
		client     *http.Client
		logger     logrus.FieldLogger
		minBackoff time.Duration
		maxBackoff time.Duration

		mu       sync.Mutex
		subs     map[uint64]func([]workshop.ChangeMessage)
		nextID   uint64
		offset   string
		handle   string
		upToDate bool
		rows     map[string]json.RawMessage
		order    []string
		ready    chan struct{}
	}

	StreamOption func(s *Stream)
)

// NewStream follows the shape served at shapeURL, either the API's
// /shape/{table} route or the service's /v1/shape?table=... endpoint.
func NewStream(shapeURL string, options ...StreamOption) *Stream {
	s := &Stream{
		url:        shapeURL,
		params:     url.Values{},
		client:     http.DefaultClient,
		logger:     logrus.StandardLogger(),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		subs:       make(map[uint64]func([]workshop.ChangeMessage)),
	}
	s.reset()
	for _, option := range options {
		option(s)
	}
	return s
}

func WithHTTPClient(c *http.Client) StreamOption {
	return func(s *Stream) {
		s.client = c
	}
}

func WithStreamLogger(logger logrus.FieldLogger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithParam adds a query parameter sent on every request, e.g. table or where.
func WithParam(key, value string) StreamOption {
	return func(s *Stream) {
		s.params.Set(key, value)
	}
}

func WithBackoff(min, max time.Duration) StreamOption {
	return func(s *Stream) {
		s.minBackoff, s.maxBackoff = min, max
	}
}

// Subscribe registers fn for every batch of messages received from now on.
// fn runs on the polling goroutine and must not block.
func (s *Stream) Subscribe(fn func([]workshop.ChangeMessage)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Ready is closed once the stream has caught up with the shape.
func (s *Stream) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Rows returns the current value of every row, in the order rows first
// appeared.
func (s *Stream) Rows() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]json.RawMessage, 0, len(s.order))
	for _, key := range s.order {
		rows = append(rows, s.rows[key])
	}
	return rows
}

// Decode unmarshals every row of the stream into T.
func Decode[T any](s *Stream) ([]T, error) {
	raw := s.Rows()
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Run polls until ctx is done, backing off after failures.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		err := s.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = s.minBackoff
			continue
		}

		s.logger.Warnf("Shape stream %s: %s (retrying in %s)", s.url, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// Poll makes one request: a snapshot or catch-up request until the stream is
// up to date, a live long poll afterwards.
func (s *Stream) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.nextURL(), nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.logger.Infof("Shape stream %s must refetch", s.url)
		s.mu.Lock()
		s.reset()
		s.mu.Unlock()
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var messages []workshop.ChangeMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return fmt.Errorf("failed to decode messages: %w", err)
	}

	s.deliver(resp.Header, messages)
	return nil
}

func (s *Stream) nextURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := url.Values{}
	for key, values := range s.params {
		q[key] = values
	}
	q.Set("offset", s.offset)
	if s.handle != "" {
		q.Set("handle", s.handle)
	}
	if s.upToDate {
		q.Set("live", "true")
	}
	return s.url + "?" + q.Encode()
}

func (s *Stream) deliver(header http.Header, messages []workshop.ChangeMessage) {
	s.mu.Lock()
	if handle := header.Get(workshop.HeaderShapeHandle); handle != "" {
		s.handle = handle
	}
	if offset := header.Get(workshop.HeaderShapeOffset); offset != "" {
		s.offset = offset
	}

	for _, msg := range messages {
		switch msg.Headers.Control {
		case workshop.ControlUpToDate:
			if !s.upToDate {
				s.upToDate = true
				close(s.ready)
			}
			continue
		case workshop.ControlMustRefetch:
			s.reset()
			continue
		}
		s.apply(msg)
	}

	subs := make([]func([]workshop.ChangeMessage), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(messages)
	}
}

// apply folds one data message into the snapshot. Callers hold s.mu.
func (s *Stream) apply(msg workshop.ChangeMessage) {
	if msg.Key == "" {
		return
	}

	existing, ok := s.rows[msg.Key]
	switch msg.Headers.Operation {
	case workshop.OpDelete:
		if !ok {
			return
		}
		delete(s.rows, msg.Key)
		for i, key := range s.order {
			if key == msg.Key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	case workshop.OpUpdate:
		if ok {
			s.rows[msg.Key] = mergeValues(existing, msg.Value)
			return
		}
		fallthrough
	default:
		if !ok {
			s.order = append(s.order, msg.Key)
		}
		s.rows[msg.Key] = msg.Value
	}
}

// reset drops all state so the next request starts a fresh snapshot.
// Callers hold s.mu, except during construction.
func (s *Stream) reset() {
	s.offset = workshop.InitialOffset
	s.handle = ""
	s.rows = make(map[string]json.RawMessage)
	s.order = nil
	if s.ready == nil || s.upToDate {
		s.ready = make(chan struct{})
	}
	s.upToDate = false
}

// mergeValues overlays the columns of an update onto the stored row, since
// updates may carry only the changed columns.
func mergeValues(base, patch json.RawMessage) json.RawMessage {
	var b, p map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(patch, &p) != nil {
		return patch
	}
	for k, v := range p {
		b[k] = v
	}
	merged, err := json.Marshal(b)
	if err != nil {
		return patch
	}
	return merged
}
