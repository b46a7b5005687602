package main

import (
	"context"
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/config"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/ledger/emulator"
	"github.com/ccdwallet/multisig-go/pkg/ledger/transport/hid"
	"github.com/ccdwallet/multisig-go/pkg/ledger/transport/tcp"
	"github.com/ccdwallet/multisig-go/pkg/logger"
	"github.com/ccdwallet/multisig-go/pkg/metrics"
	"github.com/ccdwallet/multisig-go/pkg/node"
	"github.com/ccdwallet/multisig-go/pkg/persistence"
	badgerPersistence "github.com/ccdwallet/multisig-go/pkg/persistence/badger"
	"github.com/ccdwallet/multisig-go/pkg/persistence/memory"
	redisPersistence "github.com/ccdwallet/multisig-go/pkg/persistence/redis"
	"github.com/ccdwallet/multisig-go/pkg/signer"
	"github.com/ccdwallet/multisig-go/pkg/submission"
	"github.com/ccdwallet/multisig-go/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// runtime holds the components shared by the commands
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    persistence.IProposalPersistence
	session  *ledger.Session
	poller   *submission.Poller
	wallet   *wallet.Wallet
}

// loadConfig builds the config from the file, then applies flags that were set
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if c.IsSet("network") {
			cfg.Network = config.NetworkName(c.String("network"))
		}
	} else {
		cfg = config.Default(config.NetworkName(c.String("network")))
	}

	if c.IsSet("node-url") {
		cfg.Node.URL = c.String("node-url")
	}
	if c.IsSet("device-transport") {
		cfg.Device.Transport = config.DeviceTransport(c.String("device-transport"))
	}
	if c.IsSet("device-address") {
		cfg.Device.Address = c.String("device-address")
	}
	if c.IsSet("persistence") {
		cfg.Persistence.Type = config.PersistenceType(c.String("persistence"))
	}
	if c.IsSet("badger-dir") {
		cfg.Persistence.BadgerDir = c.String("badger-dir")
	}
	if c.IsSet("redis-address") {
		cfg.Persistence.Redis.Address = c.String("redis-address")
	}
	if c.IsSet("redis-password") {
		cfg.Persistence.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("keystore") {
		cfg.Keystore.Path = c.String("keystore")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Device.ApplyStatusWords(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRuntime wires the wallet. The device session is opened only when
// withDevice is set and a transport is configured.
func newRuntime(c *cli.Context, withDevice bool) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	r := &runtime{
		cfg:      cfg,
		logger:   l,
		registry: prometheus.NewRegistry(),
	}
	r.metrics = metrics.New(r.registry)

	r.store, err = openStore(cfg.Persistence, l)
	if err != nil {
		return nil, err
	}

	if withDevice {
		if r.session, err = openSession(c.Context, cfg.Device, l); err != nil {
			r.Close()
			return nil, err
		}
	}

	nodeClient, err := node.NewHTTPClient(&node.HTTPClientConfig{
		BaseURL:        cfg.Node.URL,
		RequestTimeout: cfg.Node.RequestTimeout,
		Retry:          cfg.Node.Retry,
	}, l)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create node client: %w", err)
	}

	r.poller = submission.NewPoller(&submission.PollerConfig{
		Interval: cfg.Submission.PollInterval,
		Rate:     cfg.Submission.PollRate,
		Burst:    cfg.Submission.PollBurst,
	}, l)
	r.wallet, err = wallet.NewWallet(&wallet.Config{
		Store: r.store,
		Coordinator: signer.NewCoordinator(&signer.CoordinatorConfig{
			Retry:   cfg.Device.SigningRetry,
			Metrics: r.metrics,
		}, l),
		Pipeline: submission.NewPipeline(nodeClient, r.store, &submission.PipelineConfig{
			Metrics: r.metrics,
		}, l),
		Poller:  r.poller,
		Session: r.session,
	}, l)
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *runtime) Close() {
	if r.session != nil {
		_ = r.session.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Sugar().Warnw("Failed to close proposal store", "error", err)
		}
	}
	_ = r.logger.Sync()
}

func openStore(cfg config.PersistenceConfig, l *zap.Logger) (persistence.IProposalPersistence, error) {
	switch cfg.Type {
	case config.PersistenceType_Memory:
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceType_Badger:
		store, err := badgerPersistence.NewBadgerPersistence(cfg.BadgerDir, l)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.PersistenceType_Redis:
		store, err := redisPersistence.NewRedisPersistence(&redisPersistence.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, l)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", cfg.Type)
	}
}

func deviceOpener(cfg config.DeviceConfig, l *zap.Logger) (ledger.Opener, error) {
	switch cfg.Transport {
	case config.DeviceTransport_HID:
		return func(ctx context.Context) (ledger.Transport, error) {
			t, err := hid.Open()
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	case config.DeviceTransport_TCP:
		return func(ctx context.Context) (ledger.Transport, error) {
			t, err := tcp.Dial(ctx, cfg.Address)
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	case config.DeviceTransport_Emulator:
		l.Sugar().Warnw("Using the in-process device emulator, keys are derived from the configured seed")
		return emulator.New([]byte(cfg.EmulatorSeed)).Opener(), nil
	default:
		return nil, fmt.Errorf("no device transport configured")
	}
}

func openSession(ctx context.Context, cfg config.DeviceConfig, l *zap.Logger) (*ledger.Session, error) {
	opener, err := deviceOpener(cfg, l)
	if err != nil {
		return nil, err
	}
	session := ledger.NewSession(opener, cfg.Deadline, l)
	if err := session.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open device session: %w", err)
	}
	return session, nil
}
