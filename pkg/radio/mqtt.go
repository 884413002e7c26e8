package radio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// MessageSink receives every inbound message a link decodes, typically
// CoreRouter.Process.
type MessageSink func(msg *mesh.Message, interfaceID string)

// MQTTConfig holds connection parameters for an MQTT-bridged mesh link.
type MQTTConfig struct {
	// BrokerURL is the full broker URL, e.g. "tls://mqtt.example.com:8883".
	BrokerURL string `yaml:"broker_url"`
	// SubscribeTopic is the inbound topic filter, e.g. "mesh/+/rx".
	SubscribeTopic string `yaml:"subscribe_topic"`
	// PublishTopicPrefix prefixes outbound topics; the channel number is
	// appended, e.g. "mesh/tx" -> "mesh/tx/0".
	PublishTopicPrefix string `yaml:"publish_topic_prefix"`
	// ClientIDPrefix gets a unique suffix so brokers see distinct clients.
	ClientIDPrefix string `yaml:"client_id_prefix"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	KeepAlive        time.Duration `yaml:"keep_alive"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReconnectWaitMax time.Duration `yaml:"reconnect_wait_max"`

	// Optional TLS material for brokers requiring it.
	CACertFile         string `yaml:"ca_cert_file"`
	ClientCertFile     string `yaml:"client_cert_file"`
	ClientKeyFile      string `yaml:"client_key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DefaultMQTTConfig returns operational defaults; broker and topics must
// still be set by the caller.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientIDPrefix:   "mesh-gateway-",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
	}
}

// MQTTLink bridges an MQTT-attached mesh radio into the router. Inbound
// JSON envelopes on the subscribe topic are decoded and handed to the sink;
// Transmit publishes outbound messages on the per-channel publish topic.
type MQTTLink struct {
	id     string
	cfg    MQTTConfig
	sink   MessageSink
	client mqtt.Client
	logger zerolog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewMQTTLink creates an MQTTLink. It does not connect until Start.
func NewMQTTLink(id string, cfg MQTTConfig, sink MessageSink, logger zerolog.Logger) (*MQTTLink, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("message sink is required")
	}
	return &MQTTLink{
		id:     id,
		cfg:    cfg,
		sink:   sink,
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "MQTTLink").Str("interface", id).Logger(),
	}, nil
}

// ID returns the interface id this link is registered under.
func (l *MQTTLink) ID() string {
	return l.id
}

// Start connects to the broker. A failed initial connection is logged, not
// fatal; the Paho client keeps retrying in the background.
func (l *MQTTLink) Start(ctx context.Context) error {
	opts := l.createOptions()
	l.client = mqtt.NewClient(opts)

	l.logger.Info().Str("broker", l.cfg.BrokerURL).Msg("Connecting to MQTT broker...")
	if token := l.client.Connect(); token.WaitTimeout(l.cfg.ConnectTimeout) && token.Error() != nil {
		l.logger.Error().Err(token.Error()).Msg("Initial MQTT connection failed; client will keep retrying.")
	}

	go func() {
		<-ctx.Done()
		_ = l.Stop(context.Background())
	}()
	return nil
}

// Stop unsubscribes and disconnects.
func (l *MQTTLink) Stop(_ context.Context) error {
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping MQTT link...")
		if l.client != nil && l.client.IsConnected() {
			if token := l.client.Unsubscribe(l.cfg.SubscribeTopic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				l.logger.Warn().Err(token.Error()).Str("topic", l.cfg.SubscribeTopic).Msg("Failed to unsubscribe.")
			}
			l.client.Disconnect(500)
		}
		close(l.done)
		l.logger.Info().Msg("MQTT link stopped.")
	})
	return nil
}

// Done is closed once the link has fully stopped.
func (l *MQTTLink) Done() <-chan struct{} {
	return l.done
}

// IsConnected reports the underlying client's connection state.
func (l *MQTTLink) IsConnected() bool {
	return l.client != nil && l.client.IsConnected()
}

// Transmit publishes one message (or chunk) to the per-channel topic.
func (l *MQTTLink) Transmit(_ context.Context, msg *mesh.Message) error {
	if l.client == nil || !l.client.IsConnected() {
		return fmt.Errorf("mqtt link %s is not connected", l.id)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	topic := fmt.Sprintf("%s/%d", l.cfg.PublishTopicPrefix, msg.Channel)
	token := l.client.Publish(topic, 1, false, payload)
	if token.WaitTimeout(l.cfg.ConnectTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	l.logger.Debug().Str("msg_id", msg.ID).Str("topic", topic).Msg("Transmitted message.")
	return nil
}

// handleInbound decodes an envelope and forwards it to the sink. Malformed
// payloads are logged and dropped; the mesh offers no error channel back.
func (l *MQTTLink) handleInbound(_ mqtt.Client, raw mqtt.Message) {
	payload := make([]byte, len(raw.Payload()))
	copy(payload, raw.Payload())

	msg, err := DecodeEnvelope(payload)
	if err != nil {
		l.logger.Warn().Err(err).Str("topic", raw.Topic()).Msg("Dropping undecodable inbound payload.")
		return
	}
	l.logger.Debug().Str("msg_id", msg.ID).Str("topic", raw.Topic()).Msg("Received inbound message.")
	l.sink(msg, l.id)
}

func (l *MQTTLink) createOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%d", l.cfg.ClientIDPrefix, time.Now().UnixNano()%1000000))
	opts.SetUsername(l.cfg.Username)
	opts.SetPassword(l.cfg.Password)
	opts.SetKeepAlive(l.cfg.KeepAlive)
	opts.SetConnectTimeout(l.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(l.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		l.logger.Info().Str("broker", l.cfg.BrokerURL).Msg("Connected to MQTT broker.")
		token := client.Subscribe(l.cfg.SubscribeTopic, 1, l.handleInbound)
		go func() {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				l.logger.Error().Err(token.Error()).Str("topic", l.cfg.SubscribeTopic).Msg("Failed to subscribe.")
			} else {
				l.logger.Info().Str("topic", l.cfg.SubscribeTopic).Msg("Subscribed to inbound topic.")
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.logger.Error().Err(err).Msg("Lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(l.cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(&l.cfg)
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to build TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
		}
	}
	return opts
}

func newTLSConfig(cfg *MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
