package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/plugin"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

const weatherSubscription = "weather-alerts"

// WeatherService answers forecast requests from the last report it holds
// and manages per-user alert subscriptions. Reports arrive out of band:
// other plugins push them over the bus as "weather-report" system events,
// or the gateway sets them directly.
type WeatherService struct {
	store   store.Store
	replier Replier
	logger  zerolog.Logger

	mu     sync.RWMutex
	report string
}

// NewWeatherService creates the weather handler and registers its bus
// handler for inbound report events.
func NewWeatherService(bus *plugin.Bus, st store.Store, replier Replier, logger zerolog.Logger) (*WeatherService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if replier == nil {
		return nil, fmt.Errorf("replier cannot be nil")
	}
	s := &WeatherService{
		store:   st,
		replier: replier,
		logger:  logger.With().Str("component", "WeatherService").Logger(),
	}
	if bus != nil {
		bus.RegisterHandler(classify.ServiceWeather, s.handleBusMessage)
	}
	return s, nil
}

// HandleMessage answers wx/weather requests and sub/unsub commands.
func (s *WeatherService) HandleMessage(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile) error {
	cmd, _ := splitCommand(msg.Content)
	switch cmd {
	case "sub", "subscribe", "alert", "alerts":
		return s.setSubscription(ctx, msg, user, true)
	case "unsub", "unsubscribe":
		return s.setSubscription(ctx, msg, user, false)
	default:
		// wx, weather, forecast and keyword matches all get the report.
		return s.send(ctx, msg, s.currentReport())
	}
}

// SetReport replaces the cached report, typically from a cloud-side feed.
func (s *WeatherService) SetReport(report string) {
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
}

func (s *WeatherService) currentReport() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == "" {
		return "No weather report available yet."
	}
	return s.report
}

func (s *WeatherService) setSubscription(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile, join bool) error {
	if user == nil {
		user = &mesh.UserProfile{NodeID: msg.Sender}
	}
	if join {
		subscribed := false
		for _, sub := range user.Subscriptions {
			if sub == weatherSubscription {
				subscribed = true
				break
			}
		}
		if !subscribed {
			user.Subscriptions = append(user.Subscriptions, weatherSubscription)
		}
	} else {
		kept := user.Subscriptions[:0]
		for _, sub := range user.Subscriptions {
			if sub != weatherSubscription {
				kept = append(kept, sub)
			}
		}
		user.Subscriptions = kept
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("failed to persist subscription change for %s: %w", msg.Sender, err)
	}
	if join {
		return s.send(ctx, msg, "Subscribed to weather alerts.")
	}
	return s.send(ctx, msg, "Unsubscribed from weather alerts.")
}

// handleBusMessage accepts report updates and observes emergency events.
func (s *WeatherService) handleBusMessage(_ context.Context, msg *plugin.BusMessage) (*plugin.BusResponse, error) {
	if event, _ := msg.Payload["event"].(string); event == "weather-report" {
		report, _ := msg.Payload["report"].(string)
		if strings.TrimSpace(report) == "" {
			return nil, fmt.Errorf("weather-report event carried no report")
		}
		s.SetReport(report)
		s.logger.Info().Str("source", msg.Source).Msg("Weather report updated via plugin bus.")
	}
	return &plugin.BusResponse{Success: true}, nil
}

func (s *WeatherService) send(ctx context.Context, orig *mesh.Message, content string) error {
	if !s.replier.Send(ctx, reply(orig, content), orig.InterfaceID) {
		return fmt.Errorf("failed to send weather reply to %s", orig.Sender)
	}
	return nil
}
