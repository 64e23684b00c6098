// Package transport provides the pub/sub adapters that carry opaque signed
// gossip datagrams between nodes. Delivery, retry and fan-out live here;
// the coherency manager only sees bytes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"pricemesh/pkg/logger"
)

// KafkaOption configures KafkaTransport.
type KafkaOption func(*KafkaConfig)

// KafkaConfig holds Kafka transport configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	MinBytes     int
	MaxBytes     int
}

// WithKafkaBrokers sets the broker list.
func WithKafkaBrokers(brokers []string) KafkaOption {
	return func(c *KafkaConfig) { c.Brokers = brokers }
}

// WithKafkaTopic sets the gossip topic.
func WithKafkaTopic(topic string) KafkaOption {
	return func(c *KafkaConfig) { c.Topic = topic }
}

// WithKafkaGroupID sets the consumer group id. Every node needs its own
// group so each one receives the full gossip stream.
func WithKafkaGroupID(groupID string) KafkaOption {
	return func(c *KafkaConfig) { c.GroupID = groupID }
}

// WithKafkaCompression sets the producer compression codec.
func WithKafkaCompression(comp string) KafkaOption {
	return func(c *KafkaConfig) { c.Compression = comp }
}

// WithKafkaTimeouts sets producer write/read timeouts.
func WithKafkaTimeouts(write, read time.Duration) KafkaOption {
	return func(c *KafkaConfig) {
		c.WriteTimeout = write
		c.ReadTimeout = read
	}
}

// KafkaTransport carries gossip datagrams over a Kafka topic.
type KafkaTransport struct {
	cfg    *KafkaConfig
	writer *kafka.Writer
	reader *kafka.Reader
	log    *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewKafkaTransport creates a Kafka-backed transport.
func NewKafkaTransport(lgr *logger.Logger, opts ...KafkaOption) (*KafkaTransport, error) {
	cfg := &KafkaConfig{
		Topic:        "pricemesh.gossip",
		RequiredAcks: 1,
		Compression:  "snappy",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		MinBytes:     1,
		MaxBytes:     10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("transport: kafka brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("transport: kafka group id is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	initTransportMetricsOnce()
	return &KafkaTransport{
		cfg:    cfg,
		writer: writer,
		log:    lgr,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Publish sends one datagram to the gossip topic.
func (t *KafkaTransport) Publish(ctx context.Context, data []byte) error {
	err := t.writer.WriteMessages(ctx, kafka.Message{
		Value: data,
		Time:  time.Now(),
	})
	observeTransportPublish("kafka", len(data), err)
	return err
}

// Subscribe starts a reader loop delivering every inbound datagram to
// handler on the reader goroutine.
func (t *KafkaTransport) Subscribe(handler func([]byte)) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return errors.New("transport: already subscribed")
	}
	t.started = true

	t.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.cfg.Brokers,
		Topic:    t.cfg.Topic,
		GroupID:  t.cfg.GroupID,
		MinBytes: t.cfg.MinBytes,
		MaxBytes: t.cfg.MaxBytes,
	})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			msg, err := t.reader.ReadMessage(t.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				// Transient broker trouble: log and keep reading. The
				// coherency layer simply resumes when delivery recovers.
				if t.log != nil {
					t.log.Warn("kafka read failed", logger.Error(err))
				}
				select {
				case <-t.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			observeTransportReceive("kafka")
			handler(msg.Value)
		}
	}()

	if t.log != nil {
		t.log.Info("kafka transport subscribed",
			logger.String("topic", t.cfg.Topic),
			logger.String("group", t.cfg.GroupID))
	}
	return nil
}

// Close stops the reader loop and closes both ends.
func (t *KafkaTransport) Close() error {
	t.cancel()
	t.wg.Wait()

	var errs []error
	if t.reader != nil {
		if err := t.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

var (
	transportPublishTotal *prometheus.CounterVec
	transportPublishBytes *prometheus.CounterVec
	transportReceiveTotal *prometheus.CounterVec
	transportOnce         = make(chan struct{}, 1)
)

func initTransportMetricsOnce() {
	select {
	case transportOnce <- struct{}{}:
		transportPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_transport_publish_total",
				Help: "Datagrams handed to the transport, by backend and result",
			},
			[]string{"backend", "result"},
		)
		transportPublishBytes = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_transport_publish_bytes_total",
				Help: "Datagram bytes handed to the transport",
			},
			[]string{"backend"},
		)
		transportReceiveTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricemesh_transport_receive_total",
				Help: "Datagrams received from the transport",
			},
			[]string{"backend"},
		)
	default:
		// already initialized
	}
}

func observeTransportPublish(backend string, bytes int, err error) {
	if transportPublishTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	transportPublishTotal.WithLabelValues(backend, result).Inc()
	transportPublishBytes.WithLabelValues(backend).Add(float64(bytes))
}

func observeTransportReceive(backend string) {
	if transportReceiveTotal == nil {
		return
	}
	transportReceiveTotal.WithLabelValues(backend).Inc()
}
