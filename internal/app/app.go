// Package app builds the escrow service graph from configuration. Both
// binaries share it so they sign and sequence identically.
package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/escrow/ledger"
	"github.com/nemanja-m/escrowd/internal/escrow/service"
	"github.com/nemanja-m/escrowd/internal/shared/config"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

// Version is overridden at link time.
var Version = "dev"

const (
	ledgerDecimals = 18
	// memoryFunding is credited to the signer on the in-process ledger.
	memoryFunding = "1000"
)

type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Info      core.ServiceInfo
	Service   *service.EscrowOrchestrator
	Sequencer *service.SigningSequencer
	// Metrics holds the runtime collectors and the orchestrator's
	// instruments. The REST server exposes it at /metrics.
	Metrics *prometheus.Registry

	closers []func()
}

func NewLogger(cfg config.LoggingConfig, w io.Writer) logging.Logger {
	return logging.NewSlogLoggerTo(w, logging.ParseLevel(cfg.Level), cfg.Format)
}

// Build wires the ledger client, sequencer and orchestrator. The caller owns
// the returned App and must Close it.
func Build(ctx context.Context, cfg *config.Config, name string, logger logging.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Info: core.ServiceInfo{
			Name:        name,
			Version:     Version,
			Contract:    common.HexToAddress(cfg.Ledger.ContractAddress),
			Network:     cfg.Ledger.Network,
			ExplorerURL: cfg.Ledger.ExplorerURL,
		},
	}

	key, err := ledger.LoadSigningKey(cfg.Signer)
	if err != nil {
		return nil, err
	}

	client, err := a.buildLedger(ctx, key)
	if err != nil {
		a.Close()
		return nil, err
	}

	var seqOpts []service.SequencerOption
	if cfg.Sequencer.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Sequencer.Redis.Addr,
			DB:       cfg.Sequencer.Redis.DB,
			Password: cfg.Sequencer.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close()
			return nil, fmt.Errorf("app: connect redis %s: %w", cfg.Sequencer.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		lock := service.NewRedisLock(rdb, cfg.Sequencer.Redis.Key, cfg.Sequencer.MaxHold, cfg.Sequencer.Redis.PollInterval)
		seqOpts = append(seqOpts, service.WithDistributedLock(lock))
		logger.Info("Cross-process signing lock enabled", "addr", cfg.Sequencer.Redis.Addr, "key", cfg.Sequencer.Redis.Key)
	}
	a.Sequencer = service.NewSigningSequencer(cfg.Sequencer.MaxHold, logger, seqOpts...)

	meterProvider, err := a.buildMetrics()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = service.NewEscrowOrchestrator(client, a.Sequencer, Settings(cfg), logger, service.WithMeterProvider(meterProvider))

	logger.Info("Escrow service ready",
		"backend", cfg.Ledger.Backend,
		"signer", client.Signer().Hex(),
		"contract", a.Info.Contract.Hex(),
		"network", cfg.Ledger.Network,
	)
	return a, nil
}

func (a *App) buildLedger(ctx context.Context, key *ecdsa.PrivateKey) (core.LedgerClient, error) {
	cfg := a.Config
	switch cfg.Ledger.Backend {
	case "memory":
		signer := crypto.PubkeyToAddress(key.PublicKey)
		mem := ledger.NewMemoryLedger(clock.New(), cfg.Orchestrator.FeeBasisPoints, cfg.Orchestrator.ResolutionWindow, a.Info.Contract)
		funding, err := core.NewProjector(ledgerDecimals).ParseAmount(memoryFunding)
		if err != nil {
			return nil, err
		}
		mem.Fund(signer, funding)
		a.Logger.Warn("Using the in-process ledger, state is lost on exit", "signer", signer.Hex())
		return mem.Client(signer), nil

	case "evm":
		rpcClient, err := ethclient.DialContext(ctx, cfg.Ledger.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("app: dial %s: %w", cfg.Ledger.RPCURL, err)
		}
		a.closers = append(a.closers, rpcClient.Close)

		var chainID *big.Int
		if cfg.Ledger.ChainID != 0 {
			chainID = big.NewInt(cfg.Ledger.ChainID)
		}
		client, err := ledger.NewEVMClient(ctx, rpcClient, key, ledger.EVMOptions{
			Contract:      a.Info.Contract,
			ChainID:       chainID,
			Confirmations: cfg.Ledger.Confirmations,
			PollInterval:  cfg.Orchestrator.PollInterval,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("app: unsupported ledger backend %q", cfg.Ledger.Backend)
	}
}

// buildMetrics bridges otel instruments into a prometheus registry.
func (a *App) buildMetrics() (*sdkmetric.MeterProvider, error) {
	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(a.Metrics))
	if err != nil {
		return nil, fmt.Errorf("app: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	a.closers = append(a.closers, func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			a.Logger.Warn("Meter provider shutdown failed", "error", err)
		}
	})
	return mp, nil
}

// Settings derives orchestrator settings from configuration.
func Settings(cfg *config.Config) service.Settings {
	return service.Settings{
		ConfirmTimeout:    cfg.Orchestrator.ConfirmTimeout,
		ConfirmAttempts:   cfg.Orchestrator.ConfirmAttempts,
		PollInterval:      cfg.Orchestrator.PollInterval,
		ReadRetries:       cfg.Orchestrator.ReadRetries,
		ReadRetryInterval: cfg.Orchestrator.ReadRetryInterval,
		SubmitTimeout:     cfg.Ledger.SubmitTimeout,
		ResolutionWindow:  cfg.Orchestrator.ResolutionWindow,
		FeeBasisPoints:    cfg.Orchestrator.FeeBasisPoints,
		Decimals:          ledgerDecimals,
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
