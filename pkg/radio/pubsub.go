package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// PubSubUplinkConfig holds configuration for the internet uplink.
type PubSubUplinkConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`

	TopicExistsTimeout         time.Duration `yaml:"topic_exists_timeout"`
	PublishConfirmationTimeout time.Duration `yaml:"publish_confirmation_timeout"`
}

// DefaultPubSubUplinkConfig provides sensible timeout defaults.
func DefaultPubSubUplinkConfig() PubSubUplinkConfig {
	return PubSubUplinkConfig{
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubSubUplink forwards mesh messages to a Google Pub/Sub topic, bridging
// the off-grid network onto internet-connected consumers. It registers with
// the router as an ordinary interface.
type PubSubUplink struct {
	id     string
	topic  *pubsub.Topic
	cfg    PubSubUplinkConfig
	logger zerolog.Logger
}

// NewPubSubUplink validates the topic's existence before returning a
// functional uplink.
func NewPubSubUplink(
	ctx context.Context,
	id string,
	cfg PubSubUplinkConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubSubUplink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for uplink")
	}
	if cfg.TopicExistsTimeout <= 0 {
		cfg.TopicExistsTimeout = 15 * time.Second
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = 20 * time.Second
	}

	topic := client.Topic(cfg.TopicID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("Pub/Sub uplink initialized successfully.")
	return &PubSubUplink{
		id:     id,
		topic:  topic,
		cfg:    cfg,
		logger: logger.With().Str("component", "PubSubUplink").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// ID returns the interface id this uplink is registered under.
func (u *PubSubUplink) ID() string {
	return u.id
}

// Transmit publishes one message and waits for the server's confirmation so
// the router's per-interface success accounting stays accurate.
func (u *PubSubUplink) Transmit(ctx context.Context, msg *mesh.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s for uplink: %w", msg.ID, err)
	}

	res := u.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"message_id": msg.ID,
			"sender":     msg.Sender,
			"type":       string(msg.Type),
		},
	})

	getCtx, cancel := context.WithTimeout(ctx, u.cfg.PublishConfirmationTimeout)
	defer cancel()
	serverID, err := res.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	u.logger.Debug().Str("msg_id", msg.ID).Str("server_id", serverID).Msg("Uplinked message.")
	return nil
}

// Stop flushes any pending publishes. topic.Stop is blocking, so it is
// wrapped to respect the context deadline.
func (u *PubSubUplink) Stop(ctx context.Context) error {
	u.logger.Info().Msg("Stopping Pub/Sub uplink, flushing pending publishes...")
	done := make(chan struct{})
	go func() {
		u.topic.Stop()
		close(done)
	}()
	select {
	case <-done:
		u.logger.Info().Msg("Pub/Sub uplink stopped.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pubsub uplink shutdown timed out: %w", ctx.Err())
	}
}
