package mesh

import (
	"time"
)

// MessageType identifies the kind of payload carried by a mesh packet.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypePosition  MessageType = "position"
	TypeTelemetry MessageType = "telemetry"
	TypeNodeInfo  MessageType = "nodeinfo"
)

// Priority controls dispatch urgency. Emergency traffic is escalated by the
// emergency service; the router itself treats priority as opaque metadata.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Message is the canonical unit of work flowing through the gateway. It is
// immutable once classified; chunking produces new derived Message values
// that reference the parent via metadata.
type Message struct {
	// ID is unique per logical message. Chunks derived from an oversized
	// message carry "{parent_id}_chunk_{i}" ids.
	ID string `json:"id"`

	// Sender is the originating mesh node id.
	Sender string `json:"sender"`

	// Recipient is the target node id. Empty means broadcast.
	Recipient string `json:"recipient,omitempty"`

	// Channel is the radio channel number the message arrived on.
	Channel int `json:"channel"`

	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	Priority Priority    `json:"priority"`

	// Metadata holds arbitrary per-message annotations, including the
	// chunk bookkeeping keys set by the chunker.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// InterfaceID records which radio interface the message arrived on.
	InterfaceID string `json:"interfaceId,omitempty"`

	// Link-quality fields reported by the radio, when available.
	HopCount int     `json:"hopCount,omitempty"`
	SNR      float64 `json:"snr,omitempty"`
	RSSI     int     `json:"rssi,omitempty"`
}

// IsDirect reports whether the message is addressed to a specific node
// rather than broadcast.
func (m *Message) IsDirect() bool {
	return m.Recipient != ""
}

// Metadata keys written by the chunker onto derived messages.
const (
	MetaIsChunk     = "is_chunk"
	MetaChunkID     = "chunk_id"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
)

// QueuedMessage wraps a Message with retry bookkeeping. It is created on
// enqueue and mutated only by the dispatch loop on handler failure.
type QueuedMessage struct {
	Message *Message

	// Attempts counts routing passes already made for this message.
	Attempts int

	// MaxAttempts bounds the number of routing passes before the message
	// is dropped and the failure counter incremented.
	MaxAttempts int

	// NotBefore is the earliest time the next routing attempt may run.
	// Zero means the message is immediately eligible.
	NotBefore time.Time
}

// Eligible reports whether the queued message may be routed at t.
func (q *QueuedMessage) Eligible(t time.Time) bool {
	return q.NotBefore.IsZero() || !t.Before(q.NotBefore)
}
