package memory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/airheartdev/workshop"
)

// Log is the ordered change log of every table. Offsets are global and
// strictly increasing.
type Log struct {
	mu       sync.Mutex
	head     int64
	messages map[string][]logged
	changed  chan struct{}
}

type logged struct {
	offset  int64
	message workshop.ChangeMessage
}

func newLog() *Log {
	return &Log{
		messages: make(map[string][]logged),
		changed:  make(chan struct{}),
	}
}

func (l *Log) append(table string, messages []workshop.ChangeMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range messages {
		l.head++
		msg.Offset = formatOffset(l.head)
		l.messages[table] = append(l.messages[table], logged{offset: l.head, message: msg})
	}

	close(l.changed)
	l.changed = make(chan struct{})
}

// Since returns the messages of table after offset, and the current head.
func (l *Log) Since(table string, offset int64) ([]workshop.ChangeMessage, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.messages[table]
	i := len(entries)
	for i > 0 && entries[i-1].offset > offset {
		i--
	}

	out := make([]workshop.ChangeMessage, 0, len(entries)-i)
	for _, e := range entries[i:] {
		out = append(out, e.message)
	}
	return out, l.head
}

func (l *Log) Head() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Changed returns a channel closed on the next append.
func (l *Log) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

func formatOffset(n int64) string {
	return fmt.Sprintf("%d_0", n)
}

func parseOffset(s string) (int64, error) {
	lsn, _, _ := strings.Cut(s, "_")
	n, err := strconv.ParseInt(lsn, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return n, nil
}
