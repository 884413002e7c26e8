package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Capability is a grantable permission token. Unknown token strings are
// logged and ignored at grant time, never treated as errors.
type Capability string

const (
	CapSendMessages    Capability = "send-messages"
	CapDatabaseAccess  Capability = "database-access"
	CapHTTPRequests    Capability = "http-requests"
	CapScheduleTasks   Capability = "schedule-tasks"
	CapSystemStateRead Capability = "system-state-read"
	CapInterPlugin     Capability = "inter-plugin-messaging"
	CapCoreService     Capability = "core-service-access"
)

var knownCapabilities = map[Capability]struct{}{
	CapSendMessages:    {},
	CapDatabaseAccess:  {},
	CapHTTPRequests:    {},
	CapScheduleTasks:   {},
	CapSystemStateRead: {},
	CapInterPlugin:     {},
	CapCoreService:     {},
}

// ErrPermissionDenied is returned by Check when a plugin lacks a required
// capability. It signals a configuration problem, not a transient fault,
// and is never retried.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionManager maps plugin names to their granted capability sets.
// It is safe for concurrent use.
type PermissionManager struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	grants map[string]map[Capability]struct{}
}

// NewPermissionManager creates an empty PermissionManager.
func NewPermissionManager(logger zerolog.Logger) *PermissionManager {
	return &PermissionManager{
		grants: make(map[string]map[Capability]struct{}),
		logger: logger.With().Str("component", "PermissionManager").Logger(),
	}
}

// Grant adds the given capabilities to a plugin's set. Unknown capability
// strings are logged and skipped.
func (pm *PermissionManager) Grant(plugin string, caps ...Capability) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	set, ok := pm.grants[plugin]
	if !ok {
		set = make(map[Capability]struct{})
		pm.grants[plugin] = set
	}
	for _, c := range caps {
		if _, known := knownCapabilities[c]; !known {
			pm.logger.Warn().Str("plugin", plugin).Str("capability", string(c)).Msg("Ignoring unknown capability token.")
			continue
		}
		set[c] = struct{}{}
	}
}

// Revoke removes a capability from a plugin's set.
func (pm *PermissionManager) Revoke(plugin string, cap Capability) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if set, ok := pm.grants[plugin]; ok {
		delete(set, cap)
	}
}

// Clear removes every grant for every plugin.
func (pm *PermissionManager) Clear() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.grants = make(map[string]map[Capability]struct{})
}

// Has is the non-raising query form of Check.
func (pm *PermissionManager) Has(plugin string, cap Capability) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	set, ok := pm.grants[plugin]
	if !ok {
		return false
	}
	_, granted := set[cap]
	return granted
}

// Check returns ErrPermissionDenied (wrapped with context) when the plugin
// lacks the capability. Callers are expected to match with errors.Is and
// convert into a user-facing message.
func (pm *PermissionManager) Check(plugin string, cap Capability) error {
	if !pm.Has(plugin, cap) {
		return fmt.Errorf("plugin %q lacks capability %q: %w", plugin, cap, ErrPermissionDenied)
	}
	return nil
}
