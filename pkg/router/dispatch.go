package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/store"
)

// dispatchQueue is an unbounded FIFO with a wake signal so the dispatch
// loop suspends on empty instead of polling. Retries re-enter at the tail
// and therefore lose their original position.
type dispatchQueue struct {
	mu    sync.Mutex
	items []*mesh.QueuedMessage
	wake  chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{wake: make(chan struct{}, 1)}
}

// Push appends an item and nudges the consumer.
func (q *dispatchQueue) Push(item *mesh.QueuedMessage) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head, or nil when empty.
func (q *dispatchQueue) Pop() *mesh.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Len returns the current queue depth.
func (q *dispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// dispatchLoop is the single consumer draining the queue. It blocks on the
// wake channel when the queue is empty and exits on shutdown.
func (r *CoreRouter) dispatchLoop() {
	defer r.wg.Done()
	r.logger.Debug().Msg("Dispatch loop started.")
	for {
		select {
		case <-r.runCtx.Done():
			r.logger.Info().Msg("Dispatch loop shutting down.")
			return
		case <-r.queue.wake:
			for {
				item := r.queue.Pop()
				if item == nil {
					break
				}
				r.stats.setQueueDepth(r.queue.Len())
				r.routeMessage(item)
				if r.runCtx.Err() != nil {
					return
				}
			}
		}
	}
}

// routeMessage performs one routing pass: resolve the sender's profile,
// classify, apply rule augmentation, and invoke every target service. A
// handler failure schedules a bounded retry of the whole message; targets
// that already succeeded will be invoked again on the retry pass. Per-target
// delivery state is not tracked (see DESIGN.md).
func (r *CoreRouter) routeMessage(item *mesh.QueuedMessage) {
	msg := item.Message
	item.Attempts++

	user := r.lookupProfile(msg)
	targets := r.classifier.Classify(msg, user)
	if rule := r.rules.Evaluate(msg, user); rule != nil {
		targets = appendMissing(targets, rule.Service)
	}

	failed := false
	for _, name := range targets {
		svc, ok := r.service(name)
		if !ok {
			r.logger.Warn().Str("msg_id", msg.ID).Str("service", name).Msg("Target service not registered, skipping.")
			continue
		}
		if err := svc.HandleMessage(r.runCtx, msg, user); err != nil {
			r.logger.Error().Err(err).Str("msg_id", msg.ID).Str("service", name).Msg("Service handler failed.")
			failed = true
		} else {
			r.stats.incServiceHandled(name)
		}
	}

	if !failed {
		return
	}
	if item.Attempts >= item.MaxAttempts {
		r.stats.incFailed()
		r.logger.Error().Str("msg_id", msg.ID).Int("attempts", item.Attempts).Msg("Dropping message after exhausting retries.")
		return
	}
	r.scheduleRetry(item)
}

// scheduleRetry re-enqueues the message at the tail after the configured
// delay. The timer goroutine aborts on shutdown so Stop never waits on a
// pending retry.
func (r *CoreRouter) scheduleRetry(item *mesh.QueuedMessage) {
	item.NotBefore = time.Now().Add(r.cfg.RetryDelay)
	r.logger.Info().
		Str("msg_id", item.Message.ID).
		Int("attempt", item.Attempts).
		Time("not_before", item.NotBefore).
		Msg("Scheduling routing retry.")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(r.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-r.runCtx.Done():
		case <-timer.C:
			r.queue.Push(item)
			r.stats.setQueueDepth(r.queue.Len())
		}
	}()
}

// lookupProfile resolves the sender's profile through the cache chain,
// creating a first-seen profile when the store has none. Storage faults are
// logged and routing proceeds with no profile.
func (r *CoreRouter) lookupProfile(msg *mesh.Message) *mesh.UserProfile {
	if msg.Sender == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(r.runCtx, 5*time.Second)
	defer cancel()

	user, err := r.profiles.Fetch(ctx, msg.Sender)
	if errors.Is(err, store.ErrUserNotFound) {
		user = &mesh.UserProfile{NodeID: msg.Sender}
	} else if err != nil {
		r.logger.Error().Err(err).Str("sender", msg.Sender).Msg("Profile lookup failed, routing without profile.")
		return nil
	}

	user.LastSeen = time.Now()
	if err := r.store.UpsertUser(ctx, user); err != nil {
		r.logger.Error().Err(err).Str("sender", msg.Sender).Msg("Failed to persist profile refresh.")
	}
	return user
}

// cleanupLoop runs periodic housekeeping: idle rate-bucket eviction and
// expired-history purging.
func (r *CoreRouter) cleanupLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.runCtx.Done():
			r.logger.Info().Msg("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			r.limiter.Sweep(r.cfg.BucketMaxIdle)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.store.CleanupExpired(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Expired-data cleanup failed.")
			}
			cancel()
		}
	}
}

// appendMissing appends service to targets unless already present.
func appendMissing(targets []string, service string) []string {
	for _, t := range targets {
		if t == service {
			return targets
		}
	}
	return append(targets, service)
}
