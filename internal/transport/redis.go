package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pricemesh/pkg/logger"
)

// RedisOption configures RedisTransport.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis transport configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// WithRedisAddr sets the server address.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

// WithRedisAuth sets password and database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

// WithRedisChannel sets the pub/sub channel name.
func WithRedisChannel(channel string) RedisOption {
	return func(c *RedisConfig) { c.Channel = channel }
}

// RedisTransport carries gossip datagrams over a Redis pub/sub channel.
// Unlike the Kafka transport it offers no replay; a node that was offline
// simply catches up through subsequent rounds.
type RedisTransport struct {
	cfg    *RedisConfig
	client *redis.Client
	pubsub *redis.PubSub
	log    *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewRedisTransport creates a Redis-backed transport and verifies the
// connection with a ping.
func NewRedisTransport(lgr *logger.Logger, opts ...RedisOption) (*RedisTransport, error) {
	cfg := &RedisConfig{
		Channel: "pricemesh:gossip",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("transport: redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("transport: redis ping: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	initTransportMetricsOnce()
	return &RedisTransport{
		cfg:    cfg,
		client: client,
		log:    lgr,
		ctx:    ctx,
		cancel: stop,
	}, nil
}

// Publish sends one datagram to the gossip channel.
func (t *RedisTransport) Publish(ctx context.Context, data []byte) error {
	err := t.client.Publish(ctx, t.cfg.Channel, data).Err()
	observeTransportPublish("redis", len(data), err)
	return err
}

// Subscribe starts a pub/sub loop delivering inbound datagrams to handler.
func (t *RedisTransport) Subscribe(handler func([]byte)) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return errors.New("transport: already subscribed")
	}
	t.started = true

	t.pubsub = t.client.Subscribe(t.ctx, t.cfg.Channel)
	// Force the subscription to be established before returning.
	if _, err := t.pubsub.Receive(t.ctx); err != nil {
		return fmt.Errorf("transport: redis subscribe: %w", err)
	}

	ch := t.pubsub.Channel()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				observeTransportReceive("redis")
				handler([]byte(msg.Payload))
			}
		}
	}()

	if t.log != nil {
		t.log.Info("redis transport subscribed",
			logger.String("addr", t.cfg.Addr),
			logger.String("channel", t.cfg.Channel))
	}
	return nil
}

// Close tears down the subscription and the client.
func (t *RedisTransport) Close() error {
	t.cancel()
	var errs []error
	if t.pubsub != nil {
		if err := t.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()
	if err := t.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
