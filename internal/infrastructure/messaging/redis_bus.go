package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// Every instance publishes its events to one Pub/Sub channel and replays the
// other instances' events through its local bus, so each instance can drop
// cached balances written elsewhere.
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the Pub/Sub surface the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one received Pub/Sub message.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures NewRedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "points:events".
	ChannelName string

	// InstanceID tags outgoing messages so an instance skips its own.
	// Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// RedisEventBus is a local bus plus a Redis relay. Local handlers see local
// events synchronously with Publish and remote ones from the relay goroutine.
type RedisEventBus struct {
	*InMemoryEventBus

	client   RedisClient
	channel  string
	instance string
	log      *logger.Logger

	closed atomic.Bool
	cancel context.CancelFunc
	relay  sync.WaitGroup
}

// NewRedisEventBus subscribes to the channel and starts relaying.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis event bus: client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "points:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("redis event bus: subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		log:              cfg.Logger.With(logger.Component("redis_eventbus")),
		cancel:           cancel,
	}
	b.relay.Add(1)
	go func() {
		defer b.relay.Done()
		b.receive(ctx, messages)
	}()
	return b, nil
}

// Publish sends event to Redis, then to local handlers. Local delivery
// happens even when Redis is down; other instances then miss the event and
// rely on the cache TTL.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.closed.Load() {
		return ErrEventBusClosed
	}

	msg, err := json.Marshal(envelope{
		Instance:  b.instance,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("redis event bus: encode %s: %w", event.EventType(), err)
	}
	if err := b.client.Publish(context.Background(), b.channel, string(msg)); err != nil {
		b.log.Warn("event not relayed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) receive(ctx context.Context, messages <-chan RedisMessage) {
	for {
		var msg RedisMessage
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			msg = m
		}

		if msg.Err != nil {
			b.log.Error("redis subscription error", logger.Err(msg.Err))
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.log.Error("undecodable event on channel", logger.String("channel", msg.Channel), logger.Err(err))
			continue
		}
		if env.Instance == b.instance {
			continue
		}
		if err := b.InMemoryEventBus.Publish(relayedEvent(env)); err != nil {
			b.log.Warn("relayed event dropped", logger.Err(err))
		}
	}
}

// Close stops relaying, drains local handlers and closes the client.
func (b *RedisEventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	b.relay.Wait()
	return errors.Join(b.InMemoryEventBus.Close(), b.client.Close())
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	Instance  string           `json:"instance_id"`
	Type      shared.EventType `json:"event_type"`
	Aggregate string           `json:"aggregate_id"`
	At        time.Time        `json:"occurred_at"`
	Data      map[string]any   `json:"payload"`
}

// relayedEvent is another instance's event. Handlers get its payload map,
// never the concrete event struct, and numbers in it decode as float64.
type relayedEvent envelope

func (e relayedEvent) EventType() shared.EventType { return e.Type }
func (e relayedEvent) AggregateID() string { return e.Aggregate }
func (e relayedEvent) OccurredAt() time.Time { return e.At }
func (e relayedEvent) Payload() map[string]any { return e.Data }

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// GoRedisClient adapts go-redis to RedisClient. It owns only the
// subscriptions it opens; the caller keeps owning rdb.
type GoRedisClient struct {
	rdb redis.UniversalClient

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewGoRedisClient wraps rdb.
func NewGoRedisClient(rdb redis.UniversalClient) *GoRedisClient {
	return &GoRedisClient{rdb: rdb}
}

// Publish implements RedisClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, message any) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe implements RedisClient. It waits for the subscription to be
// confirmed; the returned channel closes when ctx ends or Close runs.
func (c *GoRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := c.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	c.mu.Lock()
	c.subs = append(c.subs, ps)
	c.mu.Unlock()

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			select {
			case out <- RedisMessage{Channel: m.Channel, Payload: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close implements RedisClient.
func (c *GoRedisClient) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		errs = append(errs, ps.Close())
	}
	return errors.Join(errs...)
}
