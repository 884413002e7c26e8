package services_test

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// mockReplier records every outbound send.
type mockReplier struct {
	mu       sync.Mutex
	sent     []*mesh.Message
	ifaceIDs []string
	refuse   bool
}

func (m *mockReplier) Send(_ context.Context, msg *mesh.Message, interfaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.sent = append(m.sent, msg)
	m.ifaceIDs = append(m.ifaceIDs, interfaceID)
	return true
}

func (m *mockReplier) last() *mesh.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockReplier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// memStore is an in-memory Store for service tests.
type memStore struct {
	mu      sync.Mutex
	users   map[string]*mesh.UserProfile
	history []*mesh.Message
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*mesh.UserProfile)}
}

func (s *memStore) GetUser(_ context.Context, nodeID string) (*mesh.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[nodeID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memStore) UpsertUser(_ context.Context, user *mesh.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.NodeID] = &copied
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, msg *mesh.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	return nil
}

func (s *memStore) RecentHistory(_ context.Context, limit int) ([]mesh.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mesh.Message, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.history[i])
	}
	return out, nil
}

func (s *memStore) CleanupExpired(_ context.Context) error { return nil }

func (s *memStore) Close() error { return nil }

func inbound(sender, content string) *mesh.Message {
	return &mesh.Message{
		ID:          "in-" + sender + "-" + content[:min(8, len(content))],
		Sender:      sender,
		Content:     content,
		Channel:     0,
		Type:        mesh.TypeText,
		Priority:    mesh.PriorityNormal,
		Timestamp:   time.Now(),
		InterfaceID: "radio0",
	}
}
