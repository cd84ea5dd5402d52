package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var at = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type countingObserver struct {
	published atomic.Int32
	failed    atomic.Int32
}

func (o *countingObserver) ObservePublish(string) { o.published.Add(1) }
func (o *countingObserver) ObserveHandler(_ string, _ time.Duration, ok bool) {
	if !ok {
		o.failed.Add(1)
	}
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventEntryAppended, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewEntryAppendedEvent("s1", "e1", 10, "class_award", at)))
	require.NoError(t, bus.Publish(shared.NewEntryDeletedEvent("s1", "e1", 10, at)))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	obs := &countingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Observer: obs})
	defer bus.Close()

	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	err := bus.Publish(shared.NewEntryDeletedEvent("s1", "e1", 10, at))

	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, int32(1), obs.published.Load())
	assert.Equal(t, int32(2), obs.failed.Load())
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewEntryDeletedEvent("s1", "e1", 1, at)))
	}

	require.NoError(t, bus.Close())
	assert.LessOrEqual(t, n.Load(), int32(5))
	assert.ErrorIs(t, bus.Publish(shared.NewEntryDeletedEvent("s1", "e1", 1, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventEntryDeleted, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// fakeRedis loops published messages back to every subscriber.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	sent []string
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message.(string))
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisEventBus_RemoteDelivery(t *testing.T) {
	redis := &fakeRedis{}

	a, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "a"})
	require.NoError(t, err)
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: redis, InstanceID: "b"})
	require.NoError(t, err)

	var localA, remoteB atomic.Int32
	require.NoError(t, a.Subscribe(shared.EventBalancesRecomputed, func(shared.Event) error { localA.Add(1); return nil }))

	got := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventBalancesRecomputed, func(e shared.Event) error {
		remoteB.Add(1)
		got <- e
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewBalancesRecomputedEvent("s1", 100, 90, 100, 0, at)))

	select {
	case e := <-got:
		assert.Equal(t, "s1", e.AggregateID())
		assert.EqualValues(t, 90, e.Payload()["points_balance"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	// a handles its own event once, locally; the looped-back copy is ignored.
	assert.Equal(t, int32(1), localA.Load())
	assert.Equal(t, int32(1), remoteB.Load())
}
