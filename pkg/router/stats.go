package router

import (
	"sync"
	"time"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// Snapshot is a point-in-time view of the router's counters, safe to
// serialize onto the admin surface.
type Snapshot struct {
	Received       int64            `json:"received"`
	Sent           int64            `json:"sent"`
	Queued         int64            `json:"queued"`
	Failed         int64            `json:"failed"`
	QueueDepth     int              `json:"queueDepth"`
	ServiceHandled map[string]int64 `json:"serviceHandled"`
	Interfaces     int              `json:"interfaces"`
	ActiveBuckets  int              `json:"activeBuckets"`
	Uptime         time.Duration    `json:"uptime"`
	Recent         []*mesh.Message  `json:"recent"`
}

// statistics accumulates counters and the bounded recent-message ring.
type statistics struct {
	mu             sync.Mutex
	received       int64
	sent           int64
	queued         int64
	failed         int64
	queueDepth     int
	serviceHandled map[string]int64
	startedAt      time.Time

	ring     []*mesh.Message
	ringCap  int
	ringNext int
	ringLen  int
}

func newStatistics(recentCapacity int) *statistics {
	return &statistics{
		serviceHandled: make(map[string]int64),
		startedAt:      time.Now(),
		ring:           make([]*mesh.Message, recentCapacity),
		ringCap:        recentCapacity,
	}
}

func (s *statistics) incReceived() {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
}

func (s *statistics) incSent() {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func (s *statistics) incQueued() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
}

func (s *statistics) incFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *statistics) incServiceHandled(name string) {
	s.mu.Lock()
	s.serviceHandled[name]++
	s.mu.Unlock()
}

func (s *statistics) setQueueDepth(depth int) {
	s.mu.Lock()
	s.queueDepth = depth
	s.mu.Unlock()
}

// recordRecent appends to the ring, evicting the oldest entry once full.
func (s *statistics) recordRecent(msg *mesh.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.ringNext] = msg
	s.ringNext = (s.ringNext + 1) % s.ringCap
	if s.ringLen < s.ringCap {
		s.ringLen++
	}
}

// recent returns up to limit messages, newest first.
func (s *statistics) recent(limit int) []*mesh.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > s.ringLen {
		limit = s.ringLen
	}
	out := make([]*mesh.Message, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.ringNext - i + s.ringCap) % s.ringCap
		out = append(out, s.ring[idx])
	}
	return out
}

func (s *statistics) snapshot(interfaces, queueDepth, activeBuckets int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	handled := make(map[string]int64, len(s.serviceHandled))
	for k, v := range s.serviceHandled {
		handled[k] = v
	}
	recent := make([]*mesh.Message, 0, s.ringLen)
	for i := 1; i <= s.ringLen; i++ {
		idx := (s.ringNext - i + s.ringCap) % s.ringCap
		recent = append(recent, s.ring[idx])
	}
	return Snapshot{
		Received:       s.received,
		Sent:           s.sent,
		Queued:         s.queued,
		Failed:         s.failed,
		QueueDepth:     queueDepth,
		ServiceHandled: handled,
		Interfaces:     interfaces,
		ActiveBuckets:  activeBuckets,
		Uptime:         time.Since(s.startedAt),
		Recent:         recent,
	}
}
