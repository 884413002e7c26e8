package radio

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// DecodeEnvelope parses an inbound JSON mesh envelope. Missing ids and
// timestamps are filled in so downstream dedupe and history always have
// something to key on; a missing sender is an error because routing and
// rate limiting are keyed by sender.
func DecodeEnvelope(payload []byte) (*mesh.Message, error) {
	var msg mesh.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid mesh envelope: %w", err)
	}
	if msg.Sender == "" {
		return nil, fmt.Errorf("mesh envelope has no sender")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = mesh.TypeText
	}
	if msg.Priority == "" {
		msg.Priority = mesh.PriorityNormal
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return &msg, nil
}
