package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// Config sizes the chunker for the radio's payload limit. Overhead is the
// fixed byte budget reserved for the reassembly header on every chunk.
type Config struct {
	MaxPayload int `yaml:"max_payload"`
	Overhead   int `yaml:"overhead"`
}

// DefaultConfig matches a LoRa-class 228-byte payload with 20 bytes
// reserved for the chunk header.
func DefaultConfig() Config {
	return Config{MaxPayload: 228, Overhead: 20}
}

// Chunker splits oversized message content into bounded-size chunks carrying
// reassembly headers. It never reassembles; that is the receiving gateway's
// job.
type Chunker struct {
	maxChunkSize int
	logger       zerolog.Logger
}

// New creates a Chunker. The usable chunk size is MaxPayload minus Overhead
// and must be positive.
func New(cfg Config, logger zerolog.Logger) (*Chunker, error) {
	size := cfg.MaxPayload - cfg.Overhead
	if size <= 0 {
		return nil, fmt.Errorf("max payload %d leaves no room after %d bytes of overhead", cfg.MaxPayload, cfg.Overhead)
	}
	return &Chunker{
		maxChunkSize: size,
		logger:       logger.With().Str("component", "Chunker").Logger(),
	}, nil
}

// MaxChunkSize returns the usable content bytes per chunk.
func (c *Chunker) MaxChunkSize() int {
	return c.maxChunkSize
}

// newGroupID returns the short shared id stamped on every chunk of one
// logical message.
func newGroupID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Split returns the message unchanged (as a single-element slice) when its
// content fits, or an ordered sequence of derived chunk messages otherwise.
// Chunk i carries id "{parent_id}_chunk_{i}", the wire header
// "[{i+1}/{total}:{group}] " prepended to its content slice, and the
// parent's sender, recipient, channel and priority. Callers must transmit
// chunks in order.
func (c *Chunker) Split(msg *mesh.Message) []*mesh.Message {
	content := msg.Content
	if len(content) <= c.maxChunkSize {
		return []*mesh.Message{msg}
	}

	total := (len(content) + c.maxChunkSize - 1) / c.maxChunkSize
	group := newGroupID()
	chunks := make([]*mesh.Message, 0, total)

	for i := 0; i < total; i++ {
		start := i * c.maxChunkSize
		end := start + c.maxChunkSize
		if end > len(content) {
			end = len(content)
		}

		chunk := &mesh.Message{
			ID:          fmt.Sprintf("%s_chunk_%d", msg.ID, i),
			Sender:      msg.Sender,
			Recipient:   msg.Recipient,
			Channel:     msg.Channel,
			Content:     fmt.Sprintf("[%d/%d:%s] %s", i+1, total, group, content[start:end]),
			Type:        msg.Type,
			Priority:    msg.Priority,
			Timestamp:   msg.Timestamp,
			InterfaceID: msg.InterfaceID,
			Metadata: map[string]interface{}{
				mesh.MetaIsChunk:     true,
				mesh.MetaChunkID:     group,
				mesh.MetaChunkIndex:  i,
				mesh.MetaTotalChunks: total,
			},
		}
		chunks = append(chunks, chunk)
	}

	c.logger.Debug().
		Str("msg_id", msg.ID).
		Str("chunk_group", group).
		Int("total_chunks", total).
		Msg("Split oversized message.")
	return chunks
}
