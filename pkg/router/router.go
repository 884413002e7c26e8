package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/cache"
	"github.com/illmade-knight/go-mesh-gateway/pkg/chunker"
	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/ratelimit"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// Service is a pluggable message handler registered with the router under a
// unique name. Handler errors trigger the router's retry logic; return
// values are otherwise ignored.
type Service interface {
	HandleMessage(ctx context.Context, msg *mesh.Message, user *mesh.UserProfile) error
}

// Interface is a radio link (or uplink) able to transmit one message.
type Interface interface {
	ID() string
	Transmit(ctx context.Context, msg *mesh.Message) error
}

// Config holds the router's dispatch and housekeeping knobs.
type Config struct {
	// MaxAttempts bounds routing passes per message, including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelay is the fixed wait before a failed message is re-enqueued.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// InterChunkDelay paces successive chunk transmissions on one link.
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay"`
	// RecentCapacity sizes the recent-message ring buffer.
	RecentCapacity int `yaml:"recent_capacity"`
	// DedupeSize sizes the seen-message id cache. Mesh floods can deliver
	// the same packet several times; duplicates are dropped at intake.
	DedupeSize int `yaml:"dedupe_size"`
	// CleanupInterval is the period of the housekeeping loop.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// BucketMaxIdle is the idle threshold for rate-bucket eviction.
	BucketMaxIdle time.Duration `yaml:"bucket_max_idle"`
}

// DefaultConfig returns the stock dispatch tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		RetryDelay:      30 * time.Second,
		InterChunkDelay: 500 * time.Millisecond,
		RecentCapacity:  100,
		DedupeSize:      1024,
		CleanupInterval: 5 * time.Minute,
		BucketMaxIdle:   time.Hour,
	}
}

// ProfileFetcher resolves a sender's profile, typically through the
// LRU → Redis → SQLite cache chain.
type ProfileFetcher = cache.Fetcher[string, *mesh.UserProfile]

// CoreRouter classifies, rate-limits, chunks and dispatches mesh messages
// to registered services and interfaces. All registries are owned by the
// instance; nothing is package-global, so tests can run several routers
// side by side.
type CoreRouter struct {
	cfg        Config
	classifier *classify.Classifier
	rules      *classify.RuleSet
	limiter    *ratelimit.Limiter
	splitter   *chunker.Chunker
	store      store.Store
	profiles   ProfileFetcher
	logger     zerolog.Logger

	mu         sync.RWMutex
	services   map[string]Service
	interfaces map[string]Interface

	queue *dispatchQueue
	seen  *lru.Cache[string, struct{}]
	stats *statistics

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// New assembles a CoreRouter from its collaborators. The profile fetcher
// may be nil, in which case profiles are fetched straight from the store.
func New(
	cfg Config,
	rules *classify.RuleSet,
	limiter *ratelimit.Limiter,
	splitter *chunker.Chunker,
	st store.Store,
	profiles ProfileFetcher,
	logger zerolog.Logger,
) (*CoreRouter, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule set cannot be nil")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter cannot be nil")
	}
	if splitter == nil {
		return nil, fmt.Errorf("chunker cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = DefaultConfig().RecentCapacity
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = DefaultConfig().DedupeSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if cfg.BucketMaxIdle <= 0 {
		cfg.BucketMaxIdle = DefaultConfig().BucketMaxIdle
	}

	if profiles == nil {
		profiles = cache.FetcherFunc[string, *mesh.UserProfile](
			func(ctx context.Context, nodeID string) (*mesh.UserProfile, error) {
				return st.GetUser(ctx, nodeID)
			})
	}

	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	return &CoreRouter{
		cfg:        cfg,
		classifier: classify.NewClassifier(logger),
		rules:      rules,
		limiter:    limiter,
		splitter:   splitter,
		store:      st,
		profiles:   profiles,
		services:   make(map[string]Service),
		interfaces: make(map[string]Interface),
		queue:      newDispatchQueue(),
		seen:       seen,
		stats:      newStatistics(cfg.RecentCapacity),
		logger:     logger.With().Str("component", "CoreRouter").Logger(),
	}, nil
}

// Start launches the dispatch and housekeeping loops.
func (r *CoreRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("router already started")
	}
	r.started = true
	r.runCtx, r.runCancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info().Msg("Starting message router...")
	r.wg.Add(2)
	go r.dispatchLoop()
	go r.cleanupLoop()
	r.logger.Info().Msg("Message router started.")
	return nil
}

// Stop cancels the dispatch and cleanup loops and waits for them to finish,
// respecting ctx's deadline. Messages still queued at shutdown are dropped;
// their history rows were written at intake.
func (r *CoreRouter) Stop(ctx context.Context) error {
	r.logger.Info().Msg("Stopping message router...")
	r.mu.Lock()
	if r.runCancel != nil {
		r.runCancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info().Int("dropped_in_queue", r.queue.Len()).Msg("Message router stopped.")
		return nil
	case <-ctx.Done():
		r.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for router loops to finish.")
		return ctx.Err()
	}
}

// RegisterService adds a message handler under the given name, replacing
// any previous registration.
func (r *CoreRouter) RegisterService(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
	r.logger.Info().Str("service", name).Msg("Registered service.")
}

// UnregisterService removes the named handler.
func (r *CoreRouter) UnregisterService(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
	r.logger.Info().Str("service", name).Msg("Unregistered service.")
}

// RegisterInterface adds a radio link under its id.
func (r *CoreRouter) RegisterInterface(iface Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interfaces[iface.ID()] = iface
	r.logger.Info().Str("interface", iface.ID()).Msg("Registered interface.")
}

// UnregisterInterface removes the radio link with the given id.
func (r *CoreRouter) UnregisterInterface(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.interfaces, id)
	r.logger.Info().Str("interface", id).Msg("Unregistered interface.")
}

// service returns the registered handler for name.
func (r *CoreRouter) service(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Process accepts an inbound message from a radio interface: it deduplicates,
// stamps the interface id, records history (best effort) and enqueues the
// message for routing.
func (r *CoreRouter) Process(msg *mesh.Message, interfaceID string) {
	if msg.ID != "" {
		if _, dup := r.seen.Get(msg.ID); dup {
			r.logger.Debug().Str("msg_id", msg.ID).Msg("Dropping duplicate message.")
			return
		}
		r.seen.Add(msg.ID, struct{}{})
	}

	msg.InterfaceID = interfaceID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	r.stats.incReceived()
	r.stats.recordRecent(msg)

	// History persistence is best effort; a storage fault must not stall
	// the mesh.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := r.store.AppendHistory(ctx, msg); err != nil {
		r.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to persist message history.")
	}
	cancel()

	r.queue.Push(&mesh.QueuedMessage{
		Message:     msg,
		MaxAttempts: r.cfg.MaxAttempts,
	})
	r.stats.incQueued()
	r.stats.setQueueDepth(r.queue.Len())
	r.logger.Debug().Str("msg_id", msg.ID).Str("interface", interfaceID).Msg("Message queued for routing.")
}

// Send transmits an outbound message. The sender's bucket is checked before
// the global one; a rate-limit denial returns false, not an error. Oversized
// content is chunked and the chunks are sent in order with pacing. When
// interfaceID is empty the message goes out on every registered interface;
// the send succeeds if at least one interface carried every chunk.
func (r *CoreRouter) Send(ctx context.Context, msg *mesh.Message, interfaceID string) bool {
	if !r.limiter.Allow(msg.Sender, 1) {
		r.logger.Warn().Str("msg_id", msg.ID).Str("sender", msg.Sender).Msg("Outbound message rate limited.")
		return false
	}

	chunks := r.splitter.Split(msg)

	r.mu.RLock()
	var targets []Interface
	if interfaceID != "" {
		if iface, ok := r.interfaces[interfaceID]; ok {
			targets = append(targets, iface)
		}
	} else {
		for _, iface := range r.interfaces {
			targets = append(targets, iface)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.logger.Warn().Str("msg_id", msg.ID).Str("interface", interfaceID).Msg("No interface available for send.")
		r.stats.incFailed()
		return false
	}

	anySucceeded := false
	for _, iface := range targets {
		if err := r.transmitChunks(ctx, iface, chunks); err != nil {
			r.logger.Error().Err(err).Str("msg_id", msg.ID).Str("interface", iface.ID()).Msg("Transmit failed.")
			r.stats.incFailed()
			continue
		}
		r.stats.incSent()
		anySucceeded = true
	}
	return anySucceeded
}

// transmitChunks sends the chunks in order on one interface, pausing
// between chunks so the radio can drain its buffer.
func (r *CoreRouter) transmitChunks(ctx context.Context, iface Interface, chunks []*mesh.Message) error {
	for i, chunk := range chunks {
		if i > 0 && r.cfg.InterChunkDelay > 0 {
			select {
			case <-time.After(r.cfg.InterChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := iface.Transmit(ctx, chunk); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// RecentMessages returns a snapshot of the newest messages seen, newest
// first, up to limit.
func (r *CoreRouter) RecentMessages(limit int) []*mesh.Message {
	return r.stats.recent(limit)
}

// Stats returns a point-in-time statistics snapshot.
func (r *CoreRouter) Stats() Snapshot {
	r.mu.RLock()
	ifaces := len(r.interfaces)
	r.mu.RUnlock()
	return r.stats.snapshot(ifaces, r.queue.Len(), r.limiter.ActiveBuckets())
}
