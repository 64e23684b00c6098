package di

import (
	"fmt"

	"pricemesh/internal/domain/repository"
	"pricemesh/internal/gossip"
	"pricemesh/internal/handler/api"
	"pricemesh/internal/store"
	"pricemesh/internal/transport"
	"pricemesh/pkg/config"
	xhttp "pricemesh/pkg/http"
	"pricemesh/pkg/logger"
	"pricemesh/pkg/metrics"
	"pricemesh/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideStore creates the shared price store.
func ProvideStore(cfg *config.Config) (*store.SeqlockStore, error) {
	s, err := store.New(cfg.Store.Capacity, store.WithReadRetries(cfg.Store.ReadRetries))
	if err != nil {
		return nil, fmt.Errorf("price store: %w", err)
	}
	return s, nil
}

// ProvideAuthenticator builds the message authenticator from the signing
// config. "none" is the only way to get an unsigned node.
func ProvideAuthenticator(cfg *config.Config) (*gossip.Authenticator, error) {
	switch cfg.Gossip.Signing.Mode {
	case config.SigningHMAC:
		auth, err := gossip.NewSigned([]byte(cfg.Gossip.Signing.Key))
		if err != nil {
			return nil, fmt.Errorf("authenticator: %w", err)
		}
		return auth, nil
	case config.SigningNone:
		return gossip.NewExplicitlyUnsigned(), nil
	default:
		return nil, fmt.Errorf("unknown signing mode %q", cfg.Gossip.Signing.Mode)
	}
}

// ProvideTransport creates the gossip transport selected by config.
func ProvideTransport(cfg *config.Config, log *logger.Logger) (repository.Transport, error) {
	switch cfg.Transport.Type {
	case "kafka":
		return transport.NewKafkaTransport(log,
			transport.WithKafkaBrokers(cfg.Transport.Kafka.Brokers),
			transport.WithKafkaTopic(cfg.Transport.Kafka.Topic),
			transport.WithKafkaGroupID("pricemesh-"+cfg.Node.ID),
			transport.WithKafkaCompression(cfg.Transport.Kafka.Compression),
			transport.WithKafkaTimeouts(cfg.Transport.Kafka.WriteTimeout, cfg.Transport.Kafka.ReadTimeout),
		)
	case "redis":
		return transport.NewRedisTransport(log,
			transport.WithRedisAddr(cfg.Transport.Redis.Addr),
			transport.WithRedisAuth(cfg.Transport.Redis.Password, cfg.Transport.Redis.DB),
			transport.WithRedisChannel(cfg.Transport.Redis.Channel),
		)
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// ProvideManager creates the gossip coherency manager.
func ProvideManager(
	cfg *config.Config,
	s *store.SeqlockStore,
	auth *gossip.Authenticator,
	tr repository.Transport,
	m repository.Metrics,
	log *logger.Logger,
) (*gossip.Manager, error) {
	mgr, err := gossip.NewManager(gossip.ManagerConfig{
		NodeID:    cfg.Node.ID,
		Store:     s,
		Auth:      auth,
		Transport: tr,
		Metrics:   m,
		Logger:    log,
		Interval:  cfg.Gossip.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("gossip manager: %w", err)
	}
	return mgr, nil
}

// ProvideStatusHandler creates the admin API handler.
func ProvideStatusHandler(log *logger.Logger, mgr *gossip.Manager, s *store.SeqlockStore) xhttp.Handler {
	return api.NewStatusHandler(log, mgr, s)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	mgr *gossip.Manager,
	tr repository.Transport,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, mgr, tr, handler)
}
