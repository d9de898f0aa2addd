package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/dto"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []dto.SocketEvent
}

func (r *recordingBroadcaster) BroadcastAll(event dto.SocketEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return 1
}

func (r *recordingBroadcaster) snapshot() []dto.SocketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dto.SocketEvent(nil), r.events...)
}

type fakeSource struct {
	handler   Handler
	err       error
	closed    bool
	subscribe []string
}

func (f *fakeSource) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	if f.err != nil {
		return f.err
	}
	f.subscribe = topics
	f.handler = handler
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestBridgeRelaysAnyJSONUnderTopicName(t *testing.T) {
	source := &fakeSource{}
	out := &recordingBroadcaster{}
	bridge := New(source, []string{"task.events"}, out, zerolog.Nop())

	require.NoError(t, bridge.Start(context.Background()))
	require.True(t, bridge.Running())
	require.Equal(t, []string{"task.events"}, source.subscribe)

	source.handler(Message{Topic: "task.events", Payload: []byte(`{"taskId":"42","status":"DONE"}`)})
	source.handler(Message{Topic: "task.events", Payload: []byte(`not json`)})
	source.handler(Message{Topic: "task.events", Payload: []byte(`[1,2,3]`)})
	source.handler(Message{Topic: "task.events", Payload: []byte(`"done"`)})
	source.handler(Message{Topic: "task.events", Payload: []byte(``)})
	source.handler(Message{Topic: "task.events", Payload: []byte(`{"taskId":`)})

	events := out.snapshot()
	require.Len(t, events, 3)

	expected := []string{
		`{"event":"task.events","data":{"taskId":"42","status":"DONE"}}`,
		`{"event":"task.events","data":[1,2,3]}`,
		`{"event":"task.events","data":"done"}`,
	}
	for i, event := range events {
		require.Equal(t, "task.events", event.Event)
		encoded, err := json.Marshal(event)
		require.NoError(t, err)
		require.JSONEq(t, expected[i], string(encoded))
	}

	require.NoError(t, bridge.Stop(context.Background()))
	require.True(t, source.closed)
	require.False(t, bridge.Running())
}

func TestBridgeStaysInertWhenBrokerUnavailable(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	bridge := New(source, []string{"task.events"}, &recordingBroadcaster{}, zerolog.Nop())

	require.NoError(t, bridge.Start(context.Background()))
	require.False(t, bridge.Running())
	require.True(t, source.closed)
	require.NoError(t, bridge.Stop(context.Background()))

	disabled := New(nil, []string{"task.events"}, &recordingBroadcaster{}, zerolog.Nop())
	require.NoError(t, disabled.Start(context.Background()))
	require.False(t, disabled.Running())
}

func TestInertRedisBridgeClosesDedicatedClient(t *testing.T) {
	server := miniredis.RunT(t)
	url := "redis://" + server.Addr()
	server.Close()

	source, err := NewRedisSourceFromURL(url, zerolog.Nop())
	require.NoError(t, err)

	bridge := New(source, []string{"task.events"}, &recordingBroadcaster{}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bridge.Start(ctx))
	require.False(t, bridge.Running())

	require.ErrorIs(t, source.client.Ping(context.Background()).Err(), redis.ErrClosed)
}

func TestNewSourceHonoursConfig(t *testing.T) {
	source, err := NewSource(config.BridgeConfig{Enabled: false, Driver: config.BridgeDriverNATS}, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, source)

	source, err = NewSource(config.BridgeConfig{Enabled: true, Driver: config.BridgeDriverNATS, URL: "nats://127.0.0.1:4222", Stream: "S", Consumer: "c"}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &NATSSource{}, source)

	_, err = NewSource(config.BridgeConfig{Enabled: true, Driver: config.BridgeDriverRedis, URL: "::bad"}, zerolog.Nop())
	require.Error(t, err)
}

func TestNATSSourceUnreachableBrokerFailsSubscribe(t *testing.T) {
	source := NewNATSSource("nats://127.0.0.1:1", "EVENTS", "test", zerolog.Nop())
	err := source.Subscribe(context.Background(), []string{"task.events"}, func(Message) {})
	require.Error(t, err)
	require.NoError(t, source.Close())
}

func TestRedisSourceRelaysPublishedEvents(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	out := &recordingBroadcaster{}
	bridge := New(NewRedisSource(client, zerolog.Nop()), []string{"task.events", "team.events"}, out, zerolog.Nop())
	require.NoError(t, bridge.Start(context.Background()))
	require.True(t, bridge.Running())

	require.NoError(t, client.Publish(context.Background(), "team.events", `{"teamId":"7"}`).Err())
	require.NoError(t, client.Publish(context.Background(), "project.events", `{"ignored":true}`).Err())

	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "team.events", out.snapshot()[0].Event)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bridge.Stop(ctx))
}
