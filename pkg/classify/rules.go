package classify

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// RuleConditions are the structural checks a rule may impose beyond its
// content pattern. Every set condition must hold for the rule to match.
type RuleConditions struct {
	// MessageType, when non-empty, requires an exact type match.
	MessageType mesh.MessageType `yaml:"message_type,omitempty"`
	// Channel, when non-nil, requires an exact channel match.
	Channel *int `yaml:"channel,omitempty"`
	// DirectMessage, when non-nil, requires the direct flag to equal it.
	DirectMessage *bool `yaml:"direct_message,omitempty"`
	// RequirePermission requires the sender's profile to carry the named
	// permission. A nil profile fails the condition.
	RequirePermission string `yaml:"require_permission,omitempty"`
	// RequireTag requires the sender's profile to carry the named tag.
	RequireTag string `yaml:"require_tag,omitempty"`
}

// RouteRule augments the classifier: when a message matches, the rule's
// service is appended to the target list if not already present. Rules are
// immutable after construction.
type RouteRule struct {
	// Name identifies the rule in logs.
	Name string `yaml:"name"`
	// Pattern is a regex searched against the content. Empty matches all.
	Pattern string `yaml:"pattern"`
	// Service is the target service the rule routes to.
	Service string `yaml:"service"`
	// Priority orders evaluation; higher evaluates first.
	Priority int `yaml:"priority"`

	Conditions RuleConditions `yaml:"conditions,omitempty"`

	re *regexp.Regexp
}

// compile pre-compiles the rule's pattern. An empty pattern stays nil and
// matches everything.
func (r *RouteRule) compile() error {
	if r.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q has invalid pattern: %w", r.Name, err)
	}
	r.re = re
	return nil
}

// Matches reports whether the rule applies to msg from user.
func (r *RouteRule) Matches(msg *mesh.Message, user *mesh.UserProfile) bool {
	if r.re != nil && !r.re.MatchString(msg.Content) {
		return false
	}
	cond := r.Conditions
	if cond.MessageType != "" && msg.Type != cond.MessageType {
		return false
	}
	if cond.Channel != nil && msg.Channel != *cond.Channel {
		return false
	}
	if cond.DirectMessage != nil && msg.IsDirect() != *cond.DirectMessage {
		return false
	}
	if cond.RequirePermission != "" {
		if user == nil || !user.HasPermission(cond.RequirePermission) {
			return false
		}
	}
	if cond.RequireTag != "" {
		if user == nil || !user.HasTag(cond.RequireTag) {
			return false
		}
	}
	return true
}

// RuleSet is a priority-ordered collection of route rules. It is sorted
// once at construction and read-only during dispatch.
type RuleSet struct {
	rules []*RouteRule
}

// NewRuleSet compiles the given rules, appends the default catch-all, and
// sorts descending by priority. Rule order within equal priorities is the
// order given.
func NewRuleSet(rules []*RouteRule) (*RuleSet, error) {
	all := make([]*RouteRule, 0, len(rules)+1)
	all = append(all, rules...)
	all = append(all, &RouteRule{
		Name:     "default",
		Service:  ServiceBot,
		Priority: -1,
	})
	for _, r := range all {
		if err := r.compile(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority > all[j].Priority
	})
	return &RuleSet{rules: all}, nil
}

// Evaluate returns the highest-priority matching rule. The catch-all
// guarantees a match always exists.
func (s *RuleSet) Evaluate(msg *mesh.Message, user *mesh.UserProfile) *RouteRule {
	for _, r := range s.rules {
		if r.Matches(msg, user) {
			return r
		}
	}
	// Unreachable: the catch-all matches everything.
	return nil
}

// Len returns the number of rules, including the catch-all.
func (s *RuleSet) Len() int {
	return len(s.rules)
}
