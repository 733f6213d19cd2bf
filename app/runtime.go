package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trufnetwork/fdc-relay/attestation/dalayer"
	"github.com/trufnetwork/fdc-relay/attestation/encoder"
	"github.com/trufnetwork/fdc-relay/attestation/hub"
	"github.com/trufnetwork/fdc-relay/attestation/pipeline"
	"github.com/trufnetwork/fdc-relay/attestation/verifier"
	"github.com/trufnetwork/fdc-relay/internal/config"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
	"github.com/trufnetwork/fdc-relay/internal/metrics"
)

// runtime holds the collaborators one command needs. Only what the command
// asks for is dialed or opened.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  metrics.MetricsRecorder
	eth      *ethclient.Client
	ledger   *ledger.Store
	pipeline *pipeline.Pipeline
}

type needs struct {
	submit bool
	ledger bool
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s%s is required", config.EnvPrefix, name)
	}
	return nil
}

func newRuntime(ctx context.Context, n needs) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	for name, v := range map[string]string{"DA_LAYER_URL": cfg.DALayerURL, "RPC_URL": cfg.RPCURL} {
		if err := required(name, v); err != nil {
			return nil, err
		}
	}

	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.NewMetricsRecorder(logger)}
	rt.eth, err = ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	da := dalayer.New(cfg.DALayerURL, cfg.DALayerAPIKey, cfg.HTTPTimeout,
		dalayer.WithLogger(logger),
		dalayer.WithStateObserver(func(name string, from, to gobreaker.State) {
			rt.metrics.RecordCircuitBreakerStateChange(context.Background(), name, from, to)
		}))

	v, err := rt.verifier()
	if err != nil {
		rt.Close()
		return nil, err
	}
	deps := pipeline.Deps{DA: da, Verifier: v}

	if n.ledger || n.submit {
		rt.ledger, err = ledger.Open(cfg.LedgerDir)
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Ledger = rt.ledger
	}
	if n.submit {
		if err := rt.submitDeps(ctx, &deps); err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.pipeline = pipeline.New(deps, cfg.Policy(),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(rt.metrics),
		pipeline.WithBackOff(cfg.BackOff().Factory()))
	return rt, nil
}

func (rt *runtime) verifier() (verifier.Verifier, error) {
	switch rt.cfg.VerifyMode {
	case config.VerifyContract:
		return verifier.NewContractVerifier(rt.eth, config.Address(rt.cfg.VerificationAddress)), nil
	default:
		if err := required("RELAY_ADDRESS", rt.cfg.RelayAddress); err != nil {
			return nil, err
		}
		return verifier.NewMerkleVerifier(verifier.NewRelayRoots(rt.eth, config.Address(rt.cfg.RelayAddress))), nil
	}
}

func (rt *runtime) submitDeps(ctx context.Context, deps *pipeline.Deps) error {
	cfg := rt.cfg
	for name, v := range map[string]string{
		"VERIFIER_URL":            cfg.VerifierURL,
		"FDC_HUB_ADDRESS":         cfg.FdcHubAddress,
		"FEE_CONFIG_ADDRESS":      cfg.FeeConfigAddress,
		"SYSTEMS_MANAGER_ADDRESS": cfg.SystemsManagerAddress,
	} {
		if err := required(name, v); err != nil {
			return err
		}
	}
	key, err := cfg.SigningKey()
	if err != nil {
		return err
	}
	clock, err := hub.LoadClock(ctx, rt.eth, config.Address(cfg.SystemsManagerAddress))
	if err != nil {
		return err
	}
	submitter, err := hub.NewSubmitter(rt.eth, key, hub.Config{
		Hub:                 config.Address(cfg.FdcHubAddress),
		FeeConfig:           config.Address(cfg.FeeConfigAddress),
		ChainID:             cfg.ChainIDBig(),
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		ReceiptTimeout:      cfg.ReceiptTimeout,
	}, clock, hub.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	rt.logger.Info("submitter ready", zap.String("address", submitter.Address().Hex()))

	deps.Encoder = encoder.New(cfg.VerifierURL, cfg.VerifierAPIKey, cfg.HTTPTimeout, encoder.WithLogger(rt.logger))
	deps.Submitter = submitter
	return nil
}

func (rt *runtime) Close() {
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			rt.logger.Warn("failed to close ledger", zap.Error(err))
		}
	}
	if rt.eth != nil {
		rt.eth.Close()
	}
	_ = rt.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
