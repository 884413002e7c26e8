package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/plugin"
)

const botHelpText = "Commands: help, ping, about, motd, wx, bbs (post/read), email/<addr> <text>. Prefix ? also works."

// BotService answers interactive commands and acts as the catch-all target
// for traffic no other service claims. It answers ping requests from other
// plugins over the bus.
type BotService struct {
	replier Replier
	logger  zerolog.Logger

	mu   sync.RWMutex
	motd string
}

// NewBotService creates the command bot and registers its bus handler.
func NewBotService(bus *plugin.Bus, replier Replier, motd string, logger zerolog.Logger) (*BotService, error) {
	if replier == nil {
		return nil, fmt.Errorf("replier cannot be nil")
	}
	if motd == "" {
		motd = "Mesh gateway online."
	}
	s := &BotService{
		replier: replier,
		motd:    motd,
		logger:  logger.With().Str("component", "BotService").Logger(),
	}
	if bus != nil {
		bus.RegisterHandler(classify.ServiceBot, s.handleBusMessage)
	}
	return s, nil
}

// HandleMessage answers a recognized command. As the catch-all service the
// bot also receives plain chatter; it replies with a hint only on direct
// messages so channel traffic is not spammed.
func (s *BotService) HandleMessage(ctx context.Context, msg *mesh.Message, _ *mesh.UserProfile) error {
	cmd, _ := splitCommand(msg.Content)
	switch cmd {
	case "?", "help", "cmd":
		return s.send(ctx, msg, botHelpText)
	case "ping":
		return s.send(ctx, msg, "pong")
	case "about":
		return s.send(ctx, msg, "Mesh radio gateway: routing, BBS, weather and bridge services.")
	case "motd":
		s.mu.RLock()
		motd := s.motd
		s.mu.RUnlock()
		return s.send(ctx, msg, motd)
	case "game", "games":
		return s.send(ctx, msg, "No games installed on this gateway.")
	default:
		if msg.IsDirect() {
			return s.send(ctx, msg, "Unrecognized command. Send 'help' for a list.")
		}
		s.logger.Debug().Str("msg_id", msg.ID).Msg("No command in message; ignoring channel chatter.")
		return nil
	}
}

// handleBusMessage answers ping events from other plugins.
func (s *BotService) handleBusMessage(_ context.Context, msg *plugin.BusMessage) (*plugin.BusResponse, error) {
	if event, _ := msg.Payload["event"].(string); event == "ping" {
		return &plugin.BusResponse{
			Success: true,
			Payload: map[string]interface{}{"event": "pong"},
		}, nil
	}
	// System events (emergencies etc.) are observed, not answered.
	s.logger.Debug().Str("source", msg.Source).Str("kind", string(msg.Kind)).Msg("Bus event observed.")
	return &plugin.BusResponse{Success: true}, nil
}

func (s *BotService) send(ctx context.Context, orig *mesh.Message, content string) error {
	if !s.replier.Send(ctx, reply(orig, content), orig.InterfaceID) {
		return fmt.Errorf("failed to send bot reply to %s", orig.Sender)
	}
	return nil
}

// SetMOTD replaces the message of the day.
func (s *BotService) SetMOTD(motd string) {
	s.mu.Lock()
	s.motd = motd
	s.mu.Unlock()
}
