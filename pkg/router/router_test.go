package router_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-gateway/pkg/chunker"
	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/ratelimit"
	"github.com/illmade-knight/go-mesh-gateway/pkg/router"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// --- Mocks ---

// memStore is an in-memory store.Store for router tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*mesh.UserProfile
	history  []*mesh.Message
	failWith error
	cleanups int
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*mesh.UserProfile)}
}

func (m *memStore) GetUser(_ context.Context, nodeID string) (*mesh.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.users[nodeID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memStore) UpsertUser(_ context.Context, profile *mesh.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	clone := *profile
	m.users[profile.NodeID] = &clone
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, msg *mesh.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.history = append(m.history, msg)
	return nil
}

func (m *memStore) RecentHistory(_ context.Context, limit int) ([]mesh.Message, error) {
	return nil, nil
}

func (m *memStore) CleanupExpired(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) historyLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// mockService records invocations and optionally fails a set number of times.
type mockService struct {
	calls     atomic.Int32
	failTimes int32
}

func (s *mockService) HandleMessage(_ context.Context, _ *mesh.Message, _ *mesh.UserProfile) error {
	n := s.calls.Add(1)
	if n <= s.failTimes {
		return errors.New("handler failure")
	}
	return nil
}

// mockInterface records transmissions in order.
type mockInterface struct {
	id       string
	mu       sync.Mutex
	sent     []*mesh.Message
	failWith error
}

func (i *mockInterface) ID() string { return i.id }

func (i *mockInterface) Transmit(_ context.Context, msg *mesh.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failWith != nil {
		return i.failWith
	}
	i.sent = append(i.sent, msg)
	return nil
}

func (i *mockInterface) transmitted() []*mesh.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*mesh.Message(nil), i.sent...)
}

// --- Helpers ---

type routerOpts struct {
	cfg     router.Config
	limiter ratelimit.Config
}

func newTestRouter(t *testing.T, st store.Store, opts *routerOpts) *router.CoreRouter {
	t.Helper()
	if opts == nil {
		opts = &routerOpts{}
	}
	if opts.cfg.MaxAttempts == 0 {
		opts.cfg = router.Config{
			MaxAttempts:     3,
			RetryDelay:      20 * time.Millisecond,
			InterChunkDelay: time.Millisecond,
			RecentCapacity:  10,
			DedupeSize:      64,
			CleanupInterval: time.Hour,
			BucketMaxIdle:   time.Hour,
		}
	}
	if opts.limiter.GlobalMaxTokens == 0 {
		opts.limiter = ratelimit.Config{
			GlobalMaxTokens:  1000,
			GlobalRefillRate: 100,
			SenderMaxTokens:  1000,
			SenderRefillRate: 100,
		}
	}
	rules, err := classify.NewRuleSet(nil)
	require.NoError(t, err)
	split, err := chunker.New(chunker.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	r, err := router.New(opts.cfg, rules, ratelimit.NewLimiter(opts.limiter, zerolog.Nop()), split, st, nil, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func startRouter(t *testing.T, r *router.CoreRouter) {
	t.Helper()
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(stopCtx)
	})
}

// --- Tests ---

func TestRouter_EmergencyFanOut(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)

	emergency := &mockService{}
	bot := &mockService{}
	r.RegisterService(classify.ServiceEmergency, emergency)
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	r.Process(&mesh.Message{ID: "sos-1", Sender: "node-a", Content: "SOS need help", Type: mesh.TypeText}, "mqtt0")

	require.Eventually(t, func() bool {
		return emergency.calls.Load() == 1 && bot.calls.Load() == 1
	}, time.Second, 10*time.Millisecond, "both targets should be invoked exactly once")

	// Profile was created on first sight and refreshed.
	user, err := st.GetUser(context.Background(), "node-a")
	require.NoError(t, err)
	assert.False(t, user.LastSeen.IsZero())
}

func TestRouter_HistoryFailureIsNonFatal(t *testing.T) {
	st := newMemStore()
	st.failWith = errors.New("disk full")
	r := newTestRouter(t, st, nil)

	bot := &mockService{}
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	r.Process(&mesh.Message{ID: "m1", Sender: "node-a", Content: "hello there", Type: mesh.TypeText}, "mqtt0")

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 1
	}, time.Second, 10*time.Millisecond, "message must still route when persistence fails")
}

func TestRouter_DuplicateDropped(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	bot := &mockService{}
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	msg := &mesh.Message{ID: "dup-1", Sender: "node-a", Content: "ping", Type: mesh.TypeText}
	r.Process(msg, "mqtt0")
	r.Process(msg, "mqtt1")

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), bot.calls.Load(), "flood re-delivery must not route twice")
	assert.Equal(t, 1, st.historyLen())
}

func TestRouter_RetryBound(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)

	bot := &mockService{failTimes: 100} // always fails
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	r.Process(&mesh.Message{ID: "m1", Sender: "node-a", Content: "ping", Type: mesh.TypeText}, "mqtt0")

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 3
	}, 2*time.Second, 10*time.Millisecond, "three attempts expected")

	require.Eventually(t, func() bool {
		return r.Stats().Failed == 1
	}, time.Second, 10*time.Millisecond, "exactly one failure increment per drop")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), bot.calls.Load(), "no attempts beyond the bound")
}

func TestRouter_RetrySucceedsBeforeBound(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)

	bot := &mockService{failTimes: 1}
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	r.Process(&mesh.Message{ID: "m1", Sender: "node-a", Content: "ping", Type: mesh.TypeText}, "mqtt0")

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), r.Stats().Failed)
}

func TestRouter_UnregisteredTargetSkipped(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)

	// Emergency content targets "emergency" and (via catch-all rule) "bot";
	// only bot is registered.
	bot := &mockService{}
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	r.Process(&mesh.Message{ID: "m1", Sender: "node-a", Content: "mayday", Type: mesh.TypeText}, "mqtt0")

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 1
	}, time.Second, 10*time.Millisecond, "missing target must not block the rest")
	assert.Equal(t, int64(0), r.Stats().Failed)
}

func TestRouter_SendChunksInOrder(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	iface := &mockInterface{id: "mqtt0"}
	r.RegisterInterface(iface)
	startRouter(t, r)

	content := ""
	for i := 0; i < 50; i++ {
		content += "0123456789"
	}
	ok := r.Send(context.Background(), &mesh.Message{ID: "big-1", Sender: "node-a", Content: content}, "mqtt0")
	require.True(t, ok)

	sent := iface.transmitted()
	require.Len(t, sent, 3) // 500 bytes at 208 per chunk
	for i, chunk := range sent {
		assert.Equal(t, fmt.Sprintf("big-1_chunk_%d", i), chunk.ID)
	}
}

func TestRouter_SendRateLimited(t *testing.T) {
	st := newMemStore()
	opts := &routerOpts{
		limiter: ratelimit.Config{
			GlobalMaxTokens:  1,
			GlobalRefillRate: 0.001,
			SenderMaxTokens:  1,
			SenderRefillRate: 0.001,
		},
	}
	r := newTestRouter(t, st, opts)
	iface := &mockInterface{id: "mqtt0"}
	r.RegisterInterface(iface)
	startRouter(t, r)

	msg := &mesh.Message{ID: "m1", Sender: "node-a", Content: "hi"}
	assert.True(t, r.Send(context.Background(), msg, ""))
	assert.False(t, r.Send(context.Background(), &mesh.Message{ID: "m2", Sender: "node-a", Content: "hi"}, ""))
	assert.Len(t, iface.transmitted(), 1)
}

func TestRouter_SendSucceedsIfAnyInterfaceDoes(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	bad := &mockInterface{id: "serial0", failWith: errors.New("radio offline")}
	good := &mockInterface{id: "mqtt0"}
	r.RegisterInterface(bad)
	r.RegisterInterface(good)
	startRouter(t, r)

	ok := r.Send(context.Background(), &mesh.Message{ID: "m1", Sender: "node-a", Content: "hi"}, "")

	assert.True(t, ok)
	assert.Len(t, good.transmitted(), 1)
}

func TestRouter_SendNoInterfaces(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	startRouter(t, r)

	assert.False(t, r.Send(context.Background(), &mesh.Message{ID: "m1", Sender: "node-a", Content: "hi"}, ""))
}

func TestRouter_StatsAndRecent(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	bot := &mockService{}
	r.RegisterService(classify.ServiceBot, bot)
	startRouter(t, r)

	for i := 0; i < 3; i++ {
		r.Process(&mesh.Message{ID: fmt.Sprintf("m-%d", i), Sender: "node-a", Content: "ping", Type: mesh.TypeText}, "mqtt0")
	}

	require.Eventually(t, func() bool {
		return bot.calls.Load() == 3
	}, time.Second, 10*time.Millisecond)

	snap := r.Stats()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(3), snap.Queued)
	assert.Equal(t, int64(3), snap.ServiceHandled[classify.ServiceBot])

	recent := r.RecentMessages(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m-2", recent[0].ID)
	assert.Equal(t, "m-1", recent[1].ID)
}

func TestRouter_RecentRingEvictsOldest(t *testing.T) {
	st := newMemStore()
	opts := &routerOpts{cfg: router.Config{
		MaxAttempts:     1,
		RetryDelay:      time.Millisecond,
		RecentCapacity:  3,
		DedupeSize:      64,
		CleanupInterval: time.Hour,
		BucketMaxIdle:   time.Hour,
	}}
	r := newTestRouter(t, st, opts)
	startRouter(t, r)

	for i := 0; i < 5; i++ {
		r.Process(&mesh.Message{ID: fmt.Sprintf("m-%d", i), Sender: "node-a", Content: "x", Type: mesh.TypeText}, "mqtt0")
	}

	recent := r.RecentMessages(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "m-4", recent[0].ID)
	assert.Equal(t, "m-2", recent[2].ID)
}

func TestRouter_StopDrainsCleanly(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, nil)
	startRouter(t, r)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))

	// Second stop attempt must not hang either.
	require.NoError(t, r.Stop(stopCtx))
}
