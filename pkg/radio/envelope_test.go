package radio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
	"github.com/illmade-knight/go-mesh-gateway/pkg/radio"
)

func TestDecodeEnvelope_Complete(t *testing.T) {
	payload := []byte(`{
		"id": "msg-1",
		"sender": "!a1b2c3d4",
		"channel": 2,
		"content": "status check",
		"type": "text",
		"priority": "normal",
		"snr": 7.5,
		"rssi": -92
	}`)

	msg, err := radio.DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "!a1b2c3d4", msg.Sender)
	assert.Equal(t, 2, msg.Channel)
	assert.Equal(t, 7.5, msg.SNR)
	assert.Equal(t, -92, msg.RSSI)
}

func TestDecodeEnvelope_FillsDefaults(t *testing.T) {
	msg, err := radio.DecodeEnvelope([]byte(`{"sender":"node-b","content":"hi"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, mesh.TypeText, msg.Type)
	assert.Equal(t, mesh.PriorityNormal, msg.Priority)
	assert.WithinDuration(t, time.Now().UTC(), msg.Timestamp, 5*time.Second)
}

func TestDecodeEnvelope_Rejections(t *testing.T) {
	_, err := radio.DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)

	_, err = radio.DecodeEnvelope([]byte(`{"content":"anonymous"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sender")
}
