package services_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-gateway/pkg/classify"
	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/plugin"
	"github.com/illmade-knight/go-mesh-gateway/pkg/services"
)

func TestEmailService_ForwardsToUplink(t *testing.T) {
	st := newMemStore()
	replier := &mockReplier{}
	svc, err := services.NewEmailService(st, replier, "uplink0", zerolog.Nop())
	require.NoError(t, err)

	msg := inbound("node-a", "email/ops@example.com supply drop needed at camp 2")
	require.NoError(t, svc.HandleMessage(context.Background(), msg, nil))

	// First send is the bridge envelope on the uplink, second the mesh ack.
	require.Equal(t, 2, replier.count())
	envelope := replier.sent[0]
	assert.Equal(t, "uplink0", replier.ifaceIDs[0])
	assert.Equal(t, "email", envelope.Metadata[services.MetaBridge])
	assert.Equal(t, "ops@example.com", envelope.Metadata[services.MetaBridgeTo])
	assert.Equal(t, "supply drop needed at camp 2", envelope.Content)
	assert.Equal(t, "node-a", envelope.Sender)

	ack := replier.sent[1]
	assert.Equal(t, "radio0", replier.ifaceIDs[1])
	assert.Contains(t, ack.Content, "email")
}

func TestEmailService_TagInOut(t *testing.T) {
	st := newMemStore()
	replier := &mockReplier{}
	svc, err := services.NewEmailService(st, replier, "uplink0", zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	user := &mesh.UserProfile{NodeID: "node-a"}
	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "tagin rescue"), user))

	stored, err := st.GetUser(ctx, "node-a")
	require.NoError(t, err)
	assert.True(t, stored.HasTag("rescue"))

	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "tagout rescue"), stored))
	stored, err = st.GetUser(ctx, "node-a")
	require.NoError(t, err)
	assert.False(t, stored.HasTag("rescue"))
}

func TestEmailService_UsageOnMalformedPrefix(t *testing.T) {
	st := newMemStore()
	replier := &mockReplier{}
	svc, err := services.NewEmailService(st, replier, "uplink0", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, svc.HandleMessage(context.Background(), inbound("node-a", "email/"), nil))
	assert.Contains(t, replier.last().Content, "Usage")
}

func TestWeatherService_ReportAndSubscription(t *testing.T) {
	st := newMemStore()
	replier := &mockReplier{}
	svc, err := services.NewWeatherService(nil, st, replier, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "wx"), nil))
	assert.Contains(t, replier.last().Content, "No weather report")

	svc.SetReport("Sunny, high 18C, winds calm.")
	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "what's the forecast"), nil))
	assert.Equal(t, "Sunny, high 18C, winds calm.", replier.last().Content)

	user := &mesh.UserProfile{NodeID: "node-a"}
	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "sub alerts"), user))
	stored, err := st.GetUser(ctx, "node-a")
	require.NoError(t, err)
	assert.Contains(t, stored.Subscriptions, "weather-alerts")

	require.NoError(t, svc.HandleMessage(ctx, inbound("node-a", "unsub"), stored))
	stored, err = st.GetUser(ctx, "node-a")
	require.NoError(t, err)
	assert.NotContains(t, stored.Subscriptions, "weather-alerts")
}

func TestWeatherService_ReportViaBus(t *testing.T) {
	pm := plugin.NewPermissionManager(zerolog.Nop())
	pm.Grant("feed", plugin.CapInterPlugin)
	bus := plugin.NewBus(pm, zerolog.Nop())

	st := newMemStore()
	replier := &mockReplier{}
	svc, err := services.NewWeatherService(bus, st, replier, zerolog.Nop())
	require.NoError(t, err)

	resp, err := bus.Send(context.Background(), "feed", classify.ServiceWeather, plugin.KindSystemEvent,
		map[string]interface{}{"event": "weather-report", "report": "Storm warning until 18:00."})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Success)

	require.NoError(t, svc.HandleMessage(context.Background(), inbound("node-a", "wx"), nil))
	assert.Equal(t, "Storm warning until 18:00.", replier.last().Content)
}
