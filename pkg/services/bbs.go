package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// BBSService is a small bulletin board backed by the message history table.
// Posting is implicit: every inbound message is already persisted at intake,
// so "post" only confirms. "read"/"list" replays the latest bulletins.
type BBSService struct {
	store   store.Store
	replier Replier
	limit   int
	logger  zerolog.Logger
}

// NewBBSService creates the bulletin board handler. limit caps how many
// bulletins a read returns; non-positive means 5.
func NewBBSService(st store.Store, replier Replier, limit int, logger zerolog.Logger) (*BBSService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if replier == nil {
		return nil, fmt.Errorf("replier cannot be nil")
	}
	if limit <= 0 {
		limit = 5
	}
	return &BBSService{
		store:   st,
		replier: replier,
		limit:   limit,
		logger:  logger.With().Str("component", "BBSService").Logger(),
	}, nil
}

// HandleMessage interprets a bulletin-board command. Unrecognized
// subcommands get a usage hint rather than an error so the router does not
// retry user typos.
func (s *BBSService) HandleMessage(ctx context.Context, msg *mesh.Message, _ *mesh.UserProfile) error {
	cmd, rest := splitCommand(msg.Content)
	switch cmd {
	case "bb", "bbs", "bulletin":
		// Prefix form, e.g. "bbs list": recurse on the subcommand.
		cmd, rest = splitCommand(rest)
	}

	switch cmd {
	case "post":
		if strings.TrimSpace(rest) == "" {
			return s.send(ctx, msg, "Usage: post <text>")
		}
		// The message body was persisted at intake; confirm only.
		s.logger.Info().Str("sender", msg.Sender).Msg("Bulletin posted.")
		return s.send(ctx, msg, "Bulletin posted.")
	case "read", "list":
		return s.sendBulletins(ctx, msg)
	default:
		return s.send(ctx, msg, "BBS commands: post <text>, read, list")
	}
}

func (s *BBSService) sendBulletins(ctx context.Context, msg *mesh.Message) error {
	history, err := s.store.RecentHistory(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to read bulletins: %w", err)
	}
	if len(history) == 0 {
		return s.send(ctx, msg, "No bulletins yet.")
	}
	var b strings.Builder
	b.WriteString("Latest bulletins:\n")
	for i, m := range history {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, m.Sender, m.Content)
	}
	return s.send(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

func (s *BBSService) send(ctx context.Context, orig *mesh.Message, content string) error {
	if !s.replier.Send(ctx, reply(orig, content), orig.InterfaceID) {
		return fmt.Errorf("failed to send BBS reply to %s", orig.Sender)
	}
	return nil
}

// splitCommand returns the lowercased first word of content and the rest.
func splitCommand(content string) (string, string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	cmd := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return cmd, ""
	}
	return cmd, strings.TrimSpace(parts[1])
}
