package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingConsumer struct {
	name  string
	kinds []Kind
	fail  bool
	panic bool

	mu     sync.Mutex
	events []Event
}

func (r *recordingConsumer) Name() string { return r.name }

func (r *recordingConsumer) Accepts(k Kind) bool {
	for _, kk := range r.kinds {
		if kk == k {
			return true
		}
	}
	return false
}

func (r *recordingConsumer) Process(_ context.Context, e Event) error {
	if r.panic {
		panic("boom")
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if r.fail {
		return errors.NewStd("delivery failed")
	}
	return nil
}

func (r *recordingConsumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBusRoutesByKind(t *testing.T) {
	bus := NewBus(Config{Workers: 2})
	ids := &recordingConsumer{name: "ids", kinds: []Kind{KindIdentification}}
	alerts := &recordingConsumer{name: "alerts", kinds: []Kind{KindAlert}}
	require.NoError(t, bus.Register(ids))
	require.NoError(t, bus.Register(alerts))
	require.Error(t, bus.Register(&recordingConsumer{name: "ids"}))

	assert.True(t, bus.Publish(Identification{ScientificName: "Varanus salvator"}))
	assert.True(t, bus.Publish(Identification{ScientificName: "Halcyon smyrnensis"}))
	assert.True(t, bus.Publish(Alert{Title: "classifier down"}))

	require.NoError(t, bus.Shutdown(time.Second))
	assert.Equal(t, 2, ids.count())
	assert.Equal(t, 1, alerts.count())

	stats := bus.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(3), stats.Processed)

	assert.False(t, bus.Publish(Alert{}), "closed bus drops events")
	require.NoError(t, bus.Shutdown(time.Second))
}

func TestBusWithoutConsumersDrops(t *testing.T) {
	bus := NewBus(Config{})
	defer func() { _ = bus.Shutdown(time.Second) }()
	assert.False(t, bus.Publish(Alert{}))
}

func TestBusCountsConsumerFailures(t *testing.T) {
	bus := NewBus(Config{Workers: 1})
	require.NoError(t, bus.Register(&recordingConsumer{name: "failing", kinds: []Kind{KindAlert}, fail: true}))
	require.NoError(t, bus.Register(&recordingConsumer{name: "panicking", kinds: []Kind{KindAlert}, panic: true}))

	bus.Publish(Alert{Title: "x"})
	require.NoError(t, bus.Shutdown(time.Second))
	assert.Equal(t, uint64(2), bus.Stats().ConsumerErrors)
	assert.Equal(t, uint64(0), bus.Stats().Processed)
}

// fakeToken completes immediately with err.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	connected bool
	err       error

	topic    string
	retained bool
	payload  []byte
}

func (c *fakeMQTTClient) IsConnected() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	c.topic = topic
	c.retained = retained
	c.payload = payload.([]byte)
	return &fakeToken{err: c.err}
}

func (c *fakeMQTTClient) Disconnect(uint) { c.connected = false }

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	p := newMQTTPublisher(client, MQTTConfig{Retain: true}, logger.NewDiscardLogger())
	assert.True(t, p.Accepts(KindIdentification))
	assert.False(t, p.Accepts(KindAlert))

	lat := 1.35
	ev := Identification{RequestID: "r1", ChatID: 42, ScientificName: "Varanus salvator", Confidence: 0.8, Latitude: &lat}
	require.NoError(t, p.Process(t.Context(), ev))

	assert.Equal(t, DefaultTopic, client.topic)
	assert.True(t, client.retained)
	var got map[string]any
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, "Varanus salvator", got["scientific_name"])
	assert.InDelta(t, 1.35, got["latitude"], 1e-9)
	assert.NotContains(t, got, "longitude")

	p.Close()
	assert.False(t, client.connected)
}

func TestMQTTPublisherErrors(t *testing.T) {
	offline := newMQTTPublisher(&fakeMQTTClient{}, MQTTConfig{}, logger.NewDiscardLogger())
	err := offline.Publish(t.Context(), Identification{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	failing := newMQTTPublisher(&fakeMQTTClient{connected: true, err: errors.NewStd("not authorized")},
		MQTTConfig{Topic: "custom/topic"}, logger.NewDiscardLogger())
	err = failing.Publish(t.Context(), Identification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")

	_, err = NewMQTTPublisher(MQTTConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestShoutrrrNotifier(t *testing.T) {
	_, err := NewShoutrrrNotifier(nil, 0)
	require.Error(t, err)

	_, err = NewShoutrrrNotifier([]string{"nosuchservice://token@host"}, 0)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@host")

	n, err := NewShoutrrrNotifier([]string{"logger://"}, time.Second)
	require.NoError(t, err)
	assert.True(t, n.Accepts(KindAlert))
	require.NoError(t, n.Process(t.Context(), Alert{Title: "classifier", Message: "retries exhausted", Severity: SeverityError}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, n.Notify(ctx, Alert{Message: "x"}), context.Canceled)
}
