package plugins

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"Genset-DataBridge/command"
	"Genset-DataBridge/config"
	"Genset-DataBridge/ingest"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestTopics(t *testing.T) {
	tmpl := "gensets/{device}/telemetry"
	assert.Equal(t, "gensets/+/telemetry", subscriptionTopic(tmpl))
	assert.Equal(t, "site/gen-01/cmd", commandTopic("site/{device}/cmd", "gen-01"))

	id, ok := deviceFromTopic(tmpl, "gensets/gen-01/telemetry")
	assert.True(t, ok)
	assert.Equal(t, "gen-01", id)

	for _, topic := range []string{
		"gensets/gen-01/status",
		"gensets//telemetry",
		"gensets/gen-01/telemetry/extra",
		"other/gen-01/telemetry",
	} {
		_, ok := deviceFromTopic(tmpl, topic)
		assert.False(t, ok, topic)
	}
}

func TestTelemetryHandler(t *testing.T) {
	m := NewMQTTAdapter(config.MQTTConfig{TelemetryTopic: "gensets/{device}/telemetry"}, zaptest.NewLogger(t))
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	envCh := make(chan ingest.Envelope, 4)
	h := m.telemetryHandler(context.Background(), envCh)

	h(nil, fakeMessage{"gensets/gen-07/telemetry",
		[]byte(`{"modbusRequest":["0103003C000545C5"],"modbusResponse":[""]}`)})
	h(nil, fakeMessage{"gensets/gen-07/telemetry", []byte(`garbage`)})
	h(nil, fakeMessage{"elsewhere/gen-07", []byte(`{"modbusRequest":[],"modbusResponse":[]}`)})

	require.Len(t, envCh, 1)
	env := <-envCh
	assert.Equal(t, "gen-07", env.DeviceID)
	assert.Equal(t, []string{"0103003C000545C5"}, env.Requests)
	assert.Equal(t, at, env.ReceivedAt)
}

func TestPublish_NotConnected(t *testing.T) {
	m := NewMQTTAdapter(config.MQTTConfig{}, zaptest.NewLogger(t))
	assert.False(t, m.IsConnected())
	err := m.Publish(context.Background(), "gen-01", []byte(`{}`))
	assert.ErrorIs(t, err, command.ErrTransportDisconnected)
}

type fakeTarget struct {
	suspended map[string]bool
	failing   map[string]error
	polled    []string
}

func (f *fakeTarget) Poll(_ context.Context, id string) (bool, error) {
	if err := f.failing[id]; err != nil {
		return false, err
	}
	if f.suspended[id] {
		return false, nil
	}
	f.polled = append(f.polled, id)
	return true, nil
}

func TestPoller_PollOnce(t *testing.T) {
	target := &fakeTarget{
		suspended: map[string]bool{"gen-02": true},
		failing:   map[string]error{"gen-03": errors.New("boom")},
	}
	devices := func() []string { return []string{"gen-01", "gen-02", "gen-03", "gen-04"} }
	p := NewPoller(config.PollerConfig{Enabled: true}, devices, target, zaptest.NewLogger(t))

	assert.Equal(t, 2, p.pollOnce(context.Background()))
	assert.Equal(t, []string{"gen-01", "gen-04"}, target.polled)
}

func TestPoller_StopsRoundWhenDisconnected(t *testing.T) {
	target := &fakeTarget{failing: map[string]error{"gen-02": command.ErrTransportDisconnected}}
	devices := func() []string { return []string{"gen-01", "gen-02", "gen-03"} }
	p := NewPoller(config.PollerConfig{Enabled: true}, devices, target, zaptest.NewLogger(t))

	assert.Equal(t, 1, p.pollOnce(context.Background()))
	assert.Equal(t, []string{"gen-01"}, target.polled)
}

func TestPoller_Disabled(t *testing.T) {
	p := NewPoller(config.PollerConfig{}, nil, nil, zaptest.NewLogger(t))
	assert.NoError(t, p.Start(context.Background(), nil))
}

func TestDebugUIPlugin_DisplayState(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	state := ingest.NewState()
	state.Merge("gen-01", map[string]any{"run_hours": int64(12), "alarm_code": int64(0)}, time.Now())

	d := NewDebugUIPlugin(config.DebugUIConfig{Enabled: true}, state, zap.New(core))
	d.displayState()

	entries := logs.FilterMessage("field").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "alarm_code", entries[0].ContextMap()["name"])
	assert.Equal(t, "run_hours", entries[1].ContextMap()["name"])

	d.config.Devices = []string{"gen-09"}
	d.displayState()
	assert.Equal(t, 1, logs.FilterMessage("no state yet").Len())
}
