package workshop

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
)

// MutationsStream is the SSE stream carrying one event per committed mutation.
const MutationsStream = "mutations"

// Events broadcasts committed mutations to server-sent event subscribers.
type Events struct {
	server *sse.Server
}

type MutationEvent struct {
	Table string `json:"table"`
	Txid  Txid   `json:"txid"`
}

func NewEvents() *Events {
	server := sse.New()
	// Subscribers only get commits made after they connect, and the event
	// log stays empty.
	server.AutoReplay = false
	server.CreateStream(MutationsStream)
	return &Events{server: server}
}

func (e *Events) Publish(table string, txid Txid) {
	data, err := json.Marshal(MutationEvent{Table: table, Txid: txid})
	if err != nil {
		return
	}
	e.server.Publish(MutationsStream, &sse.Event{Data: data})
}

func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.server.ServeHTTP(w, r)
}

func (e *Events) Close() {
	e.server.Close()
}
