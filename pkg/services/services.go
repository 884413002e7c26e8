// Package services provides the built-in message handlers registered with
// the core router: emergency escalation, the bulletin board, the command
// bot, the email/SMS bridge and weather subscriptions. Each service also
// participates on the inter-plugin bus under its router name.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// GatewayNodeID is the sender id stamped on messages the gateway itself
// originates, such as command replies and acknowledgements.
const GatewayNodeID = "gateway"

// Replier sends an outbound message; the CoreRouter satisfies it. An empty
// interface id broadcasts on every registered interface.
type Replier interface {
	Send(ctx context.Context, msg *mesh.Message, interfaceID string) bool
}

// reply builds a direct response to the sender of orig, on the channel and
// interface the original arrived on.
func reply(orig *mesh.Message, content string) *mesh.Message {
	return &mesh.Message{
		ID:        uuid.NewString(),
		Sender:    GatewayNodeID,
		Recipient: orig.Sender,
		Channel:   orig.Channel,
		Content:   content,
		Type:      mesh.TypeText,
		Priority:  mesh.PriorityNormal,
		Timestamp: time.Now(),
	}
}
