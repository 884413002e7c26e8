package classify

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// Well-known service names the classifier targets. Services register with
// the router under these names.
const (
	ServiceEmergency = "emergency"
	ServiceBBS       = "bbs"
	ServiceBot       = "bot"
	ServiceEmail     = "email"
	ServiceWeather   = "weather"
)

// Compiled category patterns. Matching is case-insensitive substring/regex
// search; a message may land in several categories at once.
var (
	emergencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsos\b`),
		regexp.MustCompile(`(?i)\bemergency\b`),
		regexp.MustCompile(`(?i)\bmayday\b`),
		regexp.MustCompile(`(?i)\b911\b`),
		regexp.MustCompile(`(?i)\bneed (urgent )?help\b`),
		regexp.MustCompile(`(?i)\bman down\b`),
	}

	bbsPattern = regexp.MustCompile(`(?i)^(bb|bbs|post|read|list|bulletin)\b`)

	botCommandPattern = regexp.MustCompile(`(?i)^(\?|(help|cmd|ping|about|motd|games?)\b)`)
	botSubPattern     = regexp.MustCompile(`(?i)^(wx|weather|sub|unsub|subscribe|unsubscribe|alerts?)\b`)

	emailPattern = regexp.MustCompile(`(?i)^(email/|sms:|tagsend/|tagin\b|tagout\b)`)

	weatherKeywordPattern = regexp.MustCompile(`(?i)(weather|forecast|\bwx\b)`)

	greetingPattern = regexp.MustCompile(`(?i)\b(hello|hi|hey|greetings|howdy|help)\b`)
)

// Classifier inspects message content (and an optional sender profile) and
// produces the ordered list of services that should handle the message. It
// is stateless and safe for concurrent use.
type Classifier struct {
	logger zerolog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{
		logger: logger.With().Str("component", "Classifier").Logger(),
	}
}

// Classify returns the ordered, deduplicated service list for msg. The list
// is never empty: every message gets at least the bot fallback. Categories
// are evaluated in a fixed order and are not exclusive; emergency traffic
// still fans out to any other matching service.
func (c *Classifier) Classify(msg *mesh.Message, user *mesh.UserProfile) []string {
	content := strings.TrimSpace(msg.Content)
	var targets []string
	add := func(service string) {
		for _, t := range targets {
			if t == service {
				return
			}
		}
		targets = append(targets, service)
	}

	for _, p := range emergencyPatterns {
		if p.MatchString(content) {
			add(ServiceEmergency)
			break
		}
	}

	if bbsPattern.MatchString(content) {
		add(ServiceBBS)
	}

	if botCommandPattern.MatchString(content) || botSubPattern.MatchString(content) {
		add(ServiceBot)
	}

	if emailPattern.MatchString(content) {
		add(ServiceEmail)
	}

	// Weather keyword anywhere in the content, independent of the command
	// prefix check above.
	if weatherKeywordPattern.MatchString(content) {
		add(ServiceWeather)
	}

	if len(targets) == 0 {
		if msg.Type == mesh.TypeNodeInfo || greetingPattern.MatchString(content) {
			add(ServiceBot)
		}
	}

	// Airborne nodes with no match go to the bot, which owns the aircraft
	// and AI reply paths.
	if len(targets) == 0 && user != nil && user.LikelyAirborne() {
		add(ServiceBot)
	}

	if len(targets) == 0 {
		add(ServiceBot)
	}

	c.logger.Debug().Str("msg_id", msg.ID).Strs("targets", targets).Msg("Message classified.")
	return targets
}
