package questrewardd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"questreward/asset"
	"questreward/asset/erc20"
	"questreward/core/events"
	"questreward/crypto"
	"questreward/integrations/webhooks"
	nativecommon "questreward/native/common"
	"questreward/native/questreward"
	"questreward/observability"
	"questreward/observability/logging"
	telemetry "questreward/observability/otel"
	"questreward/state/ledger"
	"questreward/storage"
)

// PassphraseFunc resolves the custody keystore passphrase, consulting envVar
// first.
type PassphraseFunc func(envVar string) (string, error)

type mainOptions struct {
	passphrase PassphraseFunc
}

// MainOption customises Main.
type MainOption func(*mainOptions)

// WithPassphrase supplies the resolver used when the custody key lives in a
// keystore file.
func WithPassphrase(resolve PassphraseFunc) MainOption {
	return func(o *mainOptions) { o.passphrase = resolve }
}

// Main initialises and runs the reward ledger daemon.
func Main(opts ...MainOption) error {
	var options mainOptions
	for _, opt := range opts {
		opt(&options)
	}

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/questrewardd/config.yaml", "path to questrewardd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("QUESTREWARD_ENV"))
	logger := logging.Setup("questrewardd", env, cfg.LogLevel)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("questrewardd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	assets, err := buildAssets(cfg.Chain, cfg.Assets, options.passphrase)
	if err != nil {
		return err
	}

	store := ledger.NewStore(db)
	engine, err := questreward.NewEngine(
		common.HexToAddress(cfg.Owner), common.HexToAddress(cfg.Admin),
		store, assets,
	)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Ledger())

	pauses, err := nativecommon.LoadPauses(store)
	if err != nil {
		return fmt.Errorf("load pauses: %w", err)
	}
	engine.SetPauses(pauses)
	if cfg.PauseOnStart {
		if _, err := pauses.Pause(questreward.ModuleName); err != nil {
			return fmt.Errorf("pause on start: %w", err)
		}
	}
	paused := pauses.IsPaused(questreward.ModuleName)
	if paused {
		logger.Warn("questreward starting paused")
	}
	observability.Ledger().SetPause(paused)

	stream := events.NewStream(cfg.Events.History)
	emitters := events.Multi{
		stream,
		events.EmitterFunc(func(evt events.Event) {
			observability.Events().RecordEvent(evt.EventType())
		}),
	}

	var serverOpts []ServerOption
	serverOpts = append(serverOpts, WithLogger(logger))
	if cfg.Audit.Driver != "" {
		auditDB, err := OpenAuditDB(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		logger.Info("audit sink enabled",
			slog.String("driver", cfg.Audit.Driver),
			logging.MaskField("dsn", cfg.Audit.DSN))
		sink := NewAuditSink(auditDB, logger)
		defer sink.Close()
		emitters = append(emitters, sink)
		serverOpts = append(serverOpts, WithAuditSink(sink))
	}
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithTopics(cfg.Webhook.Topics...),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("init webhook dispatcher: %w", err)
		}
		defer dispatcher.Close()
		logger.Info("webhook delivery enabled", logging.MaskField("endpoint", cfg.Webhook.Endpoint))
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	authenticator, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	server := NewServer(engine, pauses, stream, authenticator, NewRateLimiter(cfg.RateLimit), serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("questrewardd listening", slog.String("address", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openDatabase(cfg StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

// buildAssets dials the chain endpoint and registers one custody-backed
// ERC-20 collaborator per configured token contract.
func buildAssets(cfg ChainConfig, contracts []string, resolve PassphraseFunc) (*asset.Registry, error) {
	source := crypto.KeySource{HexKey: cfg.SignerKey, KeystorePath: cfg.Keystore}
	if cfg.Keystore != "" {
		if resolve == nil {
			return nil, fmt.Errorf("custody keystore configured without a passphrase source")
		}
		source.Passphrase = func() (string, error) { return resolve(cfg.PassphraseEnv) }
	}
	key, err := source.Load()
	if err != nil {
		return nil, fmt.Errorf("load custody key: %w", err)
	}
	client, err := erc20.Dial(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	registry := asset.NewRegistry()
	opts := erc20.Options{
		Confirmations:  cfg.Confirmations,
		PollInterval:   cfg.PollInterval.Duration,
		GasLimit:       cfg.GasLimit,
		ConfirmTimeout: cfg.ConfirmTimeout.Duration,
	}
	for _, contract := range ParseAddresses(contracts) {
		token, err := erc20.NewToken(client, contract, key.PrivateKey, opts)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", contract.Hex(), err)
		}
		registry.Register(contract, token)
	}
	return registry, nil
}
