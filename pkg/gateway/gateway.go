// Package gateway assembles the mesh gateway from its parts: storage, the
// profile cache chain, the rate limiter, the core router, radio links, the
// built-in services and the admin HTTP surface.
package gateway

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/cache"
	"github.com/illmade-knight/go-mesh-gateway/pkg/chunker"
	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/plugin"
	"github.com/illmade-knight/go-mesh-gateway/pkg/radio"
	"github.com/illmade-knight/go-mesh-gateway/pkg/ratelimit"
	"github.com/illmade-knight/go-mesh-gateway/pkg/router"
	"github.com/illmade-knight/go-mesh-gateway/pkg/services"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// Interface ids the gateway registers its transports under.
const (
	MQTTInterfaceID   = "mqtt0"
	UplinkInterfaceID = "uplink0"
)

// Gateway owns the assembled component graph and its lifecycle.
type Gateway struct {
	cfg    Config
	logger zerolog.Logger

	store    store.Store
	profiles router.ProfileFetcher
	router   *router.CoreRouter
	bus      *plugin.Bus
	perms    *plugin.PermissionManager
	admin    *AdminServer

	mqttLink     *radio.MQTTLink
	uplink       *radio.PubSubUplink
	pubsubClient *pubsub.Client
}

// New builds the full gateway graph without starting anything. Optional
// subsystems (Redis, MQTT, the Pub/Sub uplink) are skipped when their
// config is absent.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Gateway, error) {
	g := &Gateway{cfg: cfg, logger: logger.With().Str("component", "Gateway").Logger()}

	st, err := store.NewSQLiteStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	g.store = st

	profiles, err := g.buildProfileChain(ctx, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	g.profiles = profiles

	rules, err := classify.NewRuleSet(cfg.Rules)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to compile routing rules: %w", err)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)
	splitter, err := chunker.New(cfg.Chunking, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	coreRouter, err := router.New(cfg.Router, rules, limiter, splitter, st, profiles, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	g.router = coreRouter

	g.perms = plugin.NewPermissionManager(logger)
	g.bus = plugin.NewBus(g.perms, logger)
	if err := g.buildServices(logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	if err := g.buildTransports(ctx, logger); err != nil {
		_ = st.Close()
		return nil, err
	}

	g.admin = NewAdminServer(cfg.HTTPPort, coreRouter, logger)
	return g, nil
}

// buildProfileChain layers the in-process LRU over Redis (when configured)
// over the SQLite store.
func (g *Gateway) buildProfileChain(ctx context.Context, logger zerolog.Logger) (router.ProfileFetcher, error) {
	base := cache.FetcherFunc[string, *mesh.UserProfile](
		func(ctx context.Context, nodeID string) (*mesh.UserProfile, error) {
			return g.store.GetUser(ctx, nodeID)
		})

	var fetcher router.ProfileFetcher = base
	if g.cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache[string, *mesh.UserProfile](ctx, &g.cfg.Redis, base, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build redis profile cache: %w", err)
		}
		fetcher = redisCache
	}

	size := g.cfg.ProfileCacheSize
	if size <= 0 {
		size = 512
	}
	lruCache, err := cache.NewLRUCache[string, *mesh.UserProfile](size, fetcher)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile LRU: %w", err)
	}
	return lruCache, nil
}

// buildServices constructs the built-in services, grants their bus
// capabilities and registers them with the router.
func (g *Gateway) buildServices(logger zerolog.Logger) error {
	g.perms.Grant(classify.ServiceEmergency, plugin.CapInterPlugin)
	g.perms.Grant(classify.ServiceEmergency, plugin.CapSendMessages)
	g.perms.Grant(classify.ServiceBot, plugin.CapInterPlugin)
	g.perms.Grant(classify.ServiceWeather, plugin.CapInterPlugin)
	g.perms.Grant(classify.ServiceWeather, plugin.CapDatabaseAccess)
	g.perms.Grant(classify.ServiceBBS, plugin.CapDatabaseAccess)
	g.perms.Grant(classify.ServiceEmail, plugin.CapSendMessages)

	emergency, err := services.NewEmergencyService(g.bus, g.router, logger)
	if err != nil {
		return err
	}
	bbs, err := services.NewBBSService(g.store, g.router, 5, logger)
	if err != nil {
		return err
	}
	bot, err := services.NewBotService(g.bus, g.router, g.cfg.MOTD, logger)
	if err != nil {
		return err
	}
	uplinkID := ""
	if g.cfg.Uplink.ProjectID != "" {
		uplinkID = UplinkInterfaceID
	}
	email, err := services.NewEmailService(g.store, g.router, uplinkID, logger)
	if err != nil {
		return err
	}
	weather, err := services.NewWeatherService(g.bus, g.store, g.router, logger)
	if err != nil {
		return err
	}

	g.router.RegisterService(classify.ServiceEmergency, emergency)
	g.router.RegisterService(classify.ServiceBBS, bbs)
	g.router.RegisterService(classify.ServiceBot, bot)
	g.router.RegisterService(classify.ServiceEmail, email)
	g.router.RegisterService(classify.ServiceWeather, weather)
	return nil
}

// buildTransports constructs the configured radio links and registers them
// with the router.
func (g *Gateway) buildTransports(ctx context.Context, logger zerolog.Logger) error {
	if g.cfg.MQTT.BrokerURL != "" {
		link, err := radio.NewMQTTLink(MQTTInterfaceID, g.cfg.MQTT, g.router.Process, logger)
		if err != nil {
			return fmt.Errorf("failed to build MQTT link: %w", err)
		}
		g.mqttLink = link
		g.router.RegisterInterface(link)
	}

	if g.cfg.Uplink.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, g.cfg.Uplink.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create pubsub client: %w", err)
		}
		uplink, err := radio.NewPubSubUplink(ctx, UplinkInterfaceID, g.cfg.Uplink, client, logger)
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to build pubsub uplink: %w", err)
		}
		g.pubsubClient = client
		g.uplink = uplink
		g.router.RegisterInterface(uplink)
	}
	return nil
}

// Start launches the router loops, connects the radio links and begins
// serving the admin endpoints.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info().Msg("Starting mesh gateway...")
	if err := g.router.Start(ctx); err != nil {
		return err
	}
	if g.mqttLink != nil {
		if err := g.mqttLink.Start(ctx); err != nil {
			return err
		}
	}
	if err := g.admin.Start(); err != nil {
		return err
	}
	g.logger.Info().Str("http_port", g.admin.GetHTTPPort()).Msg("Mesh gateway started.")
	return nil
}

// Shutdown stops the gateway in reverse dependency order: admin surface,
// radio links, router, then storage. Errors are collected, not short-circuited,
// so every component gets its chance to stop.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info().Msg("Shutting down mesh gateway...")
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if g.admin != nil {
		record(g.admin.Shutdown(ctx))
	}
	if g.mqttLink != nil {
		record(g.mqttLink.Stop(ctx))
	}
	if g.uplink != nil {
		record(g.uplink.Stop(ctx))
	}
	if g.pubsubClient != nil {
		record(g.pubsubClient.Close())
	}
	if g.router != nil {
		record(g.router.Stop(ctx))
	}
	if g.profiles != nil {
		record(g.profiles.Close())
	}
	if g.store != nil {
		record(g.store.Close())
	}
	if firstErr != nil {
		g.logger.Error().Err(firstErr).Msg("Gateway shutdown finished with errors.")
		return firstErr
	}
	g.logger.Info().Msg("Mesh gateway shutdown complete.")
	return nil
}

// AdminPort returns the bound admin port in ":port" form, useful when the
// config asked for port 0.
func (g *Gateway) AdminPort() string {
	return g.admin.GetHTTPPort()
}

// Router exposes the core router for embedding callers.
func (g *Gateway) Router() *router.CoreRouter {
	return g.router
}

// Bus exposes the inter-plugin bus so external plugins can register.
func (g *Gateway) Bus() *plugin.Bus {
	return g.bus
}

// Permissions exposes the permission manager for plugin grants.
func (g *Gateway) Permissions() *plugin.PermissionManager {
	return g.perms
}
