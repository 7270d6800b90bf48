package workshop

import (
	"encoding/json"
	"fmt"
)

type (
	// ChangeMessage is one unit of replication data emitted by the
	// change-stream service for a shape subscription.
	ChangeMessage struct {
		Offset  string          `json:"offset,omitempty"`
		Key     string          `json:"key,omitempty"`
		Value   json.RawMessage `json:"value,omitempty"`
		Headers Headers         `json:"headers"`
	}

	Headers struct {
		Relation  []string  `json:"relation,omitempty"`
		Operation Operation `json:"operation,omitempty"`
		Txid      *Txid     `json:"txid,omitempty"`
		Txids     []Txid    `json:"txids,omitempty"`
		Control   Control   `json:"control,omitempty"`
	}
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Control string

const (
	ControlUpToDate    Control = "up-to-date"
	ControlMustRefetch Control = "must-refetch"
)

// Headers of a shape response, as sent by the change-stream service.
const (
	HeaderShapeOffset   = "electric-offset"
	HeaderShapeHandle   = "electric-handle"
	HeaderShapeUpToDate = "electric-up-to-date"
	HeaderShapeCursor   = "electric-cursor"
	HeaderShapeSchema   = "electric-schema"
)

// InitialOffset requests a full snapshot of a shape.
const InitialOffset = "-1"

// AllTxids returns every transaction identifier carried by the message.
func (h Headers) AllTxids() []Txid {
	if h.Txid == nil {
		return h.Txids
	}
	for _, t := range h.Txids {
		if t == *h.Txid {
			return h.Txids
		}
	}
	return append([]Txid{*h.Txid}, h.Txids...)
}

// HasTxid reports whether the message was produced by transaction txid.
func (m ChangeMessage) HasTxid(txid Txid) bool {
	for _, t := range m.Headers.AllTxids() {
		if t == txid {
			return true
		}
	}
	return false
}

func (m ChangeMessage) IsControl() bool {
	return m.Headers.Control != ""
}

// MessageKey builds the key the change-stream service uses for a row of
// table in the public schema.
func MessageKey(table string, id any) string {
	return fmt.Sprintf(`"public"."%s"/"%v"`, table, id)
}

// UpToDate is the control message closing a caught-up response.
func UpToDate() ChangeMessage {
	return ChangeMessage{Headers: Headers{Control: ControlUpToDate}}
}
