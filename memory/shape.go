package memory

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/airheartdev/workshop"
)

// ShapeHandler serves the change stream of one table using the hosted
// service's protocol: offset=-1 returns a snapshot of the live rows, later
// requests return the log after offset, and live=true long-polls until
// something changes or the live timeout expires.
func (b *Backend) ShapeHandler(table string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.serveShape(w, r, table)
	})
}

// ServeHTTP serves /v1/shape?table=..., standing in for the hosted service.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.serveShape(w, r, r.URL.Query().Get("table"))
}

func (b *Backend) serveShape(w http.ResponseWriter, r *http.Request, table string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tbl, ok := b.tables[table]
	if !ok {
		writeMessages(w, http.StatusBadRequest, nil)
		return
	}

	query := r.URL.Query()
	offset := query.Get("offset")
	if offset == "" {
		offset = workshop.InitialOffset
	}
	handle := b.handle(table)

	if offset == workshop.InitialOffset {
		b.mu.Lock()
		messages, err := tbl.snapshot()
		head := b.log.Head()
		b.mu.Unlock()
		if err != nil {
			b.logger.Errorf("Snapshot %s: %s", table, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		setShapeHeaders(w, handle, head)
		w.Header().Set("Cache-Control", "public, max-age=60, stale-while-revalidate=300")
		writeMessages(w, http.StatusOK, append(messages, workshop.UpToDate()))
		return
	}

	if query.Get("handle") != handle {
		w.Header().Set(workshop.HeaderShapeHandle, handle)
		writeMessages(w, http.StatusConflict, []workshop.ChangeMessage{
			{Headers: workshop.Headers{Control: workshop.ControlMustRefetch}},
		})
		return
	}

	from, err := parseOffset(offset)
	if err != nil {
		writeMessages(w, http.StatusBadRequest, nil)
		return
	}

	live := query.Get("live") == "true"
	messages, head := b.waitForChanges(r, table, from, live)
	if r.Context().Err() != nil {
		return
	}

	setShapeHeaders(w, handle, head)
	if live {
		w.Header().Set("Cache-Control", "public, max-age=5")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=60, stale-while-revalidate=300")
	}
	writeMessages(w, http.StatusOK, append(messages, workshop.UpToDate()))
}

func (b *Backend) waitForChanges(r *http.Request, table string, from int64, live bool) ([]workshop.ChangeMessage, int64) {
	timer := time.NewTimer(b.liveTimeout)
	defer timer.Stop()

	for {
		changed := b.log.Changed()
		messages, head := b.log.Since(table, from)
		if len(messages) > 0 || !live {
			return messages, head
		}

		select {
		case <-changed:
		case <-timer.C:
			return messages, head
		case <-b.closed:
			return messages, head
		case <-r.Context().Done():
			return nil, head
		}
	}
}

func (b *Backend) handle(table string) string {
	return table + "-" + b.instance
}

func setShapeHeaders(w http.ResponseWriter, handle string, head int64) {
	w.Header().Set(workshop.HeaderShapeHandle, handle)
	w.Header().Set(workshop.HeaderShapeOffset, formatOffset(head))
	w.Header().Set(workshop.HeaderShapeUpToDate, "")
}

func writeMessages(w http.ResponseWriter, status int, messages []workshop.ChangeMessage) {
	if messages == nil {
		messages = []workshop.ChangeMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(messages)
}
