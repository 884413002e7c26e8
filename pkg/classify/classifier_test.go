package classify_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

func textMessage(content string) *mesh.Message {
	return &mesh.Message{
		ID:      "msg-1",
		Sender:  "node-a",
		Content: content,
		Type:    mesh.TypeText,
	}
}

func TestClassifier_Emergency(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	targets := c.Classify(textMessage("SOS need help"), nil)

	require.NotEmpty(t, targets)
	assert.Equal(t, classify.ServiceEmergency, targets[0])
}

func TestClassifier_CategoriesFanOut(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	// An emergency that also mentions weather lands in both services,
	// emergency first.
	targets := c.Classify(textMessage("mayday caught in severe weather"), nil)

	assert.Equal(t, []string{classify.ServiceEmergency, classify.ServiceWeather}, targets)
}

func TestClassifier_BotCommands(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	for _, content := range []string{"help", "ping", "? commands", "cmd list", "wx forecast"} {
		targets := c.Classify(textMessage(content), nil)
		assert.Contains(t, targets, classify.ServiceBot, "content %q", content)
	}
}

func TestClassifier_EmailPrefixes(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	for _, content := range []string{"email/bob@example.com hi", "sms:5551234 on my way", "tagsend/ops status"} {
		targets := c.Classify(textMessage(content), nil)
		assert.Contains(t, targets, classify.ServiceEmail, "content %q", content)
	}
}

func TestClassifier_WeatherKeywordAnywhere(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	targets := c.Classify(textMessage("anyone know the forecast for tomorrow"), nil)

	assert.Contains(t, targets, classify.ServiceWeather)
}

func TestClassifier_NodeInfoGoesToBot(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	msg := textMessage("")
	msg.Type = mesh.TypeNodeInfo
	targets := c.Classify(msg, nil)

	assert.Equal(t, []string{classify.ServiceBot}, targets)
}

func TestClassifier_AirborneFallback(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	user := &mesh.UserProfile{NodeID: "node-a", HasFix: true, Altitude: 9000}
	targets := c.Classify(textMessage("cruising at FL300"), user)

	assert.Equal(t, []string{classify.ServiceBot}, targets)
}

func TestClassifier_NeverEmpty(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	for _, content := range []string{"", "random chatter", "zzzzz", "1234"} {
		targets := c.Classify(textMessage(content), nil)
		require.NotEmpty(t, targets, "content %q", content)
	}
}

func TestClassifier_NoDuplicateTargets(t *testing.T) {
	c := classify.NewClassifier(zerolog.Nop())

	// "weather" triggers both the bot subscription prefix and the weather
	// keyword; each service appears once.
	targets := c.Classify(textMessage("weather report please"), nil)

	seen := map[string]int{}
	for _, s := range targets {
		seen[s]++
	}
	for s, n := range seen {
		assert.Equal(t, 1, n, "service %s duplicated", s)
	}
}
