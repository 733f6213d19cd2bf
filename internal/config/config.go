// Package config loads the relay configuration from the environment. A Config
// is built once at startup and passed by value; nothing modifies it later.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trufnetwork/fdc-relay/attestation/retriever"
	"github.com/trufnetwork/fdc-relay/attestation/rounds"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "FDC_RELAY_"

// VerifyMode selects how proofs are checked.
type VerifyMode string

const (
	VerifyMerkle   VerifyMode = "merkle"
	VerifyContract VerifyMode = "contract"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	VerifierURL    string        `env:"VERIFIER_URL"`
	VerifierAPIKey string        `env:"VERIFIER_API_KEY"`
	DALayerURL     string        `env:"DA_LAYER_URL"`
	DALayerAPIKey  string        `env:"DA_LAYER_API_KEY"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	RPCURL     string `env:"RPC_URL"`
	ChainID    int64  `env:"CHAIN_ID" envDefault:"114"`
	PrivateKey string `env:"PRIVATE_KEY"`

	FdcHubAddress         string `env:"FDC_HUB_ADDRESS"`
	FeeConfigAddress      string `env:"FEE_CONFIG_ADDRESS"`
	SystemsManagerAddress string `env:"SYSTEMS_MANAGER_ADDRESS"`
	RelayAddress          string `env:"RELAY_ADDRESS"`
	VerificationAddress   string `env:"VERIFICATION_ADDRESS"`

	VerifyMode VerifyMode `env:"VERIFY_MODE" envDefault:"merkle"`

	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BackOffKind        string        `env:"BACKOFF" envDefault:"exponential"`
	BackOffInterval    time.Duration `env:"BACKOFF_INTERVAL" envDefault:"2s"`
	BackOffMaxInterval time.Duration `env:"BACKOFF_MAX_INTERVAL" envDefault:"30s"`

	ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"2s"`
	ReceiptTimeout      time.Duration `env:"RECEIPT_TIMEOUT" envDefault:"3m"`

	LedgerDir          string        `env:"LEDGER_DIR" envDefault:"./data/ledger"`
	ResolutionSchedule string        `env:"RESOLUTION_SCHEDULE" envDefault:"*/2 * * * *"`
	MaxConcurrentFlows int           `env:"MAX_CONCURRENT_FLOWS" envDefault:"4"`
	FlowTimeout        time.Duration `env:"FLOW_TIMEOUT" envDefault:"10m"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from environment, or from the process
// environment when it is nil. Keys carry the EnvPrefix.
func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := DefaultRules().Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Policy() rounds.Policy {
	return rounds.NewPolicy(c.MaxAttempts)
}

func (c Config) BackOff() retriever.BackOffConfig {
	return retriever.BackOffConfig{
		Kind:        retriever.BackOffKind(c.BackOffKind),
		Interval:    c.BackOffInterval,
		MaxInterval: c.BackOffMaxInterval,
	}
}

func (c Config) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// SigningKey parses PrivateKey. It is only needed by commands that submit.
func (c Config) SigningKey() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, fmt.Errorf("%sPRIVATE_KEY is required to submit requests", EnvPrefix)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Address converts one of the address fields, which Validate has checked.
func Address(s string) common.Address {
	return common.HexToAddress(s)
}
