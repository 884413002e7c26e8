package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// Bridge metadata keys stamped onto uplinked envelopes so cloud-side
// consumers know how to deliver them.
const (
	MetaBridge    = "bridge"
	MetaBridgeTo  = "bridge_to"
	MetaBridgeTag = "bridge_tag"
)

// EmailService parses bridge prefixes (email/, sms:, tagsend/) and forwards
// the body to the internet uplink for cloud-side delivery. tagin/tagout
// manage the sender's delivery tags.
type EmailService struct {
	store    store.Store
	replier  Replier
	uplinkID string
	logger   zerolog.Logger
}

// NewEmailService creates the bridge handler. uplinkID names the interface
// that carries bridge envelopes off the mesh.
func NewEmailService(st store.Store, replier Replier, uplinkID string, logger zerolog.Logger) (*EmailService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if replier == nil {
		return nil, fmt.Errorf("replier cannot be nil")
	}
	return &EmailService{
		store:    st,
		replier:  replier,
		uplinkID: uplinkID,
		logger:   logger.With().Str("component", "EmailService").Logger(),
	}, nil
}

// HandleMessage dispatches on the bridge prefix.
func (s *EmailService) HandleMessage(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile) error {
	content := strings.TrimSpace(msg.Content)
	lower := strings.ToLower(content)

	switch {
	case strings.HasPrefix(lower, "email/"):
		return s.forward(ctx, msg, "email", content[len("email/"):])
	case strings.HasPrefix(lower, "sms:"):
		return s.forward(ctx, msg, "sms", content[len("sms:"):])
	case strings.HasPrefix(lower, "tagsend/"):
		return s.tagSend(ctx, msg, content[len("tagsend/"):])
	case lower == "tagin" || strings.HasPrefix(lower, "tagin "):
		return s.setTag(ctx, msg, user, true)
	case lower == "tagout" || strings.HasPrefix(lower, "tagout "):
		return s.setTag(ctx, msg, user, false)
	default:
		return s.send(ctx, msg, "Bridge usage: email/<addr> <text>, sms:<number> <text>, tagsend/<tag> <text>, tagin, tagout")
	}
}

// forward splits "<address> <body>" and ships it to the uplink.
func (s *EmailService) forward(ctx context.Context, msg *mesh.Message, kind, rest string) error {
	addr, body := splitCommand(rest)
	if addr == "" || body == "" {
		return s.send(ctx, msg, fmt.Sprintf("Usage: %s/<address> <text>", kind))
	}
	envelope := &mesh.Message{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Content:   body,
		Type:      mesh.TypeText,
		Priority:  msg.Priority,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			MetaBridge:   kind,
			MetaBridgeTo: addr,
		},
	}
	if !s.replier.Send(ctx, envelope, s.uplinkID) {
		return fmt.Errorf("failed to uplink %s bridge message from %s", kind, msg.Sender)
	}
	s.logger.Info().Str("kind", kind).Str("sender", msg.Sender).Msg("Bridge message uplinked.")
	return s.send(ctx, msg, fmt.Sprintf("Message queued for %s delivery.", kind))
}

// tagSend addresses a bridge message to every subscriber of a tag; the
// fan-out happens cloud side.
func (s *EmailService) tagSend(ctx context.Context, msg *mesh.Message, rest string) error {
	tag, body := splitCommand(rest)
	if tag == "" || body == "" {
		return s.send(ctx, msg, "Usage: tagsend/<tag> <text>")
	}
	envelope := &mesh.Message{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Content:   body,
		Type:      mesh.TypeText,
		Priority:  msg.Priority,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			MetaBridge:    "tag",
			MetaBridgeTag: tag,
		},
	}
	if !s.replier.Send(ctx, envelope, s.uplinkID) {
		return fmt.Errorf("failed to uplink tag bridge message from %s", msg.Sender)
	}
	return s.send(ctx, msg, fmt.Sprintf("Message queued for tag '%s'.", tag))
}

// setTag adds or removes the named tag (default "bridge") on the sender's
// profile so tagsend fan-outs include or exclude them.
func (s *EmailService) setTag(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile, join bool) error {
	if user == nil {
		user = &mesh.UserProfile{NodeID: msg.Sender}
	}
	_, tag := splitCommand(msg.Content)
	if tag == "" {
		tag = "bridge"
	}

	if join {
		if !user.HasTag(tag) {
			user.Tags = append(user.Tags, tag)
		}
	} else {
		kept := user.Tags[:0]
		for _, t := range user.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		user.Tags = kept
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("failed to persist tag change for %s: %w", msg.Sender, err)
	}
	if join {
		return s.send(ctx, msg, fmt.Sprintf("Tagged in to '%s'.", tag))
	}
	return s.send(ctx, msg, fmt.Sprintf("Tagged out of '%s'.", tag))
}

func (s *EmailService) send(ctx context.Context, orig *mesh.Message, content string) error {
	if !s.replier.Send(ctx, reply(orig, content), orig.InterfaceID) {
		return fmt.Errorf("failed to send bridge reply to %s", orig.Sender)
	}
	return nil
}
