package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/plugin"
)

// EmergencyService escalates distress traffic: it raises the message
// priority, notifies every other plugin over the bus and acknowledges the
// sender so they know the call was heard.
type EmergencyService struct {
	bus     *plugin.Bus
	replier Replier
	logger  zerolog.Logger
}

// NewEmergencyService creates the emergency handler. It requires the
// inter-plugin-messaging capability under the "emergency" plugin name to
// broadcast alerts.
func NewEmergencyService(bus *plugin.Bus, replier Replier, logger zerolog.Logger) (*EmergencyService, error) {
	if bus == nil {
		return nil, fmt.Errorf("plugin bus cannot be nil")
	}
	if replier == nil {
		return nil, fmt.Errorf("replier cannot be nil")
	}
	return &EmergencyService{
		bus:     bus,
		replier: replier,
		logger:  logger.With().Str("component", "EmergencyService").Logger(),
	}, nil
}

// HandleMessage processes one distress message. The bus broadcast is best
// effort; a missing capability is a deployment fault and is logged, but the
// acknowledgement to the sender still goes out.
func (s *EmergencyService) HandleMessage(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile) error {
	msg.Priority = mesh.PriorityEmergency
	s.logger.Warn().
		Str("msg_id", msg.ID).
		Str("sender", msg.Sender).
		Str("content", msg.Content).
		Msg("EMERGENCY message received.")

	payload := map[string]interface{}{
		"event":      "emergency",
		"message_id": msg.ID,
		"sender":     msg.Sender,
		"content":    msg.Content,
	}
	if user != nil && user.HasFix {
		payload["latitude"] = user.Latitude
		payload["longitude"] = user.Longitude
	}
	if _, err := s.bus.Broadcast(ctx, classify.ServiceEmergency, plugin.KindSystemEvent, payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to broadcast emergency event on plugin bus.")
	}

	ack := reply(msg, "EMERGENCY RECEIVED. Your distress call has been logged and relayed. Stay put if safe.")
	ack.Priority = mesh.PriorityEmergency
	if !s.replier.Send(ctx, ack, msg.InterfaceID) {
		return fmt.Errorf("failed to acknowledge emergency message %s", msg.ID)
	}
	return nil
}
