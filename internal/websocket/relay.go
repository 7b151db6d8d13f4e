package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bizledger/internal/models"
)

const (
	DefaultChannel    = "ledger:changes"
	relayCloseTimeout = 5 * time.Second
)

var ErrRelayRunning = errors.New("relay already running")

// RedisRelay republishes change events over Redis pub/sub so that every
// server instance can reach the owners connected to it.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	deliver func(models.ChangeEvent)

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
	doneCh   chan struct{}
}

type RelayOption func(*RedisRelay)

func WithChannel(channel string) RelayOption {
	return func(r *RedisRelay) {
		if channel != "" {
			r.channel = channel
		}
	}
}

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *RedisRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedisRelay returns a relay that hands received events to deliver,
// normally Hub.Broadcast.
func NewRedisRelay(client redis.UniversalClient, deliver func(models.ChangeEvent), opts ...RelayOption) *RedisRelay {
	r := &RedisRelay{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
		deliver: deliver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisRelay) Publish(ctx context.Context, event models.ChangeEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and delivers events until ctx is cancelled or
// Close is called. It blocks.
func (r *RedisRelay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRelayRunning
	}
	subCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancelFn = cancel
	r.doneCh = make(chan struct{})
	done := r.doneCh
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(done)
	}()

	pubsub := r.client.Subscribe(subCtx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			r.logger.Info("change relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn("change relay channel closed")
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	event, err := decodeEvent(payload)
	if err != nil {
		r.logger.Error("drop change event", "error", err)
		return
	}
	r.deliver(event)
}

func decodeEvent(payload string) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if event.OwnerID == "" || event.Table == "" {
		return models.ChangeEvent{}, fmt.Errorf("decode change event: missing owner or table")
	}
	return event, nil
}

// Close stops Run and waits briefly for it to return.
func (r *RedisRelay) Close() {
	r.mu.Lock()
	cancel, done := r.cancelFn, r.doneCh
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(relayCloseTimeout):
		r.logger.Warn("timed out waiting for change relay to stop")
	}
}
