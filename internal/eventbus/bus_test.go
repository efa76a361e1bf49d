package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/refilld/internal/model"
)

func sampleEvent() model.StateChangeEvent {
	return model.StateChangeEvent{
		Transition: model.Transition{
			From:      model.Idle,
			To:        model.Starting,
			Reason:    "operator start",
			Timestamp: 1700000000000000000,
		},
		Meter:   model.MeterSnapshot{Current: 0},
		Message: "",
	}
}

func TestBus_PublishUpdatesLatest(t *testing.T) {
	b := New(nil, nil)

	_, ok := b.Latest()
	assert.False(t, ok)

	b.Publish(sampleEvent())

	evt, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, model.Starting, evt.Transition.To)
	assert.Equal(t, model.Idle, evt.Transition.From)
}

func TestBus_EnvelopeMarshalsState(t *testing.T) {
	env := envelopeOf(sampleEvent(), 7)
	buf, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf, &decoded))

	assert.Equal(t, "Starting", decoded["state"])
	assert.Equal(t, "Idle", decoded["previousState"])
	assert.Equal(t, "operator start", decoded["reason"])
	assert.Equal(t, float64(7), decoded["seq"])
}

func TestBus_PublishWithNoClientsDoesNotBlock(t *testing.T) {
	b := New(nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(sampleEvent())
		}
		close(done)
	}()
	<-done
}
