package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

// Rule validates one aspect of a Config.
type Rule interface {
	Name() string
	Validate(cfg Config) error
}

// RuleSet applies rules in order and stops at the first failure.
type RuleSet struct {
	rules []Rule
}

func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// DefaultRules returns the rules every loaded Config must pass.
func DefaultRules() *RuleSet {
	return NewRuleSet(
		&URLRule{},
		&AddressRule{},
		&SearchRule{},
		&CronScheduleRule{},
		&LogLevelRule{},
	)
}

func (rs *RuleSet) Validate(cfg Config) error {
	for _, rule := range rs.rules {
		if err := rule.Validate(cfg); err != nil {
			return fmt.Errorf("%s validation failed: %w", rule.Name(), err)
		}
	}
	return nil
}

// URLRule checks the service endpoints that are set.
type URLRule struct{}

func (r *URLRule) Name() string { return "url" }

func (r *URLRule) Validate(cfg Config) error {
	for name, raw := range map[string]string{
		"VERIFIER_URL": cfg.VerifierURL,
		"DA_LAYER_URL": cfg.DALayerURL,
		"RPC_URL":      cfg.RPCURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s%s %q is not an absolute url", EnvPrefix, name, raw)
		}
	}
	return nil
}

// AddressRule checks the contract addresses that are set.
type AddressRule struct{}

func (r *AddressRule) Name() string { return "ethereum_address" }

func (r *AddressRule) Validate(cfg Config) error {
	for name, addr := range map[string]string{
		"FDC_HUB_ADDRESS":         cfg.FdcHubAddress,
		"FEE_CONFIG_ADDRESS":      cfg.FeeConfigAddress,
		"SYSTEMS_MANAGER_ADDRESS": cfg.SystemsManagerAddress,
		"RELAY_ADDRESS":           cfg.RelayAddress,
		"VERIFICATION_ADDRESS":    cfg.VerificationAddress,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s%s %q is not a hex address", EnvPrefix, name, addr)
		}
	}
	if cfg.VerifyMode == VerifyContract && cfg.VerificationAddress == "" {
		return fmt.Errorf("verify mode %q requires %sVERIFICATION_ADDRESS", cfg.VerifyMode, EnvPrefix)
	}
	return nil
}

// SearchRule checks the proof search settings.
type SearchRule struct{}

func (r *SearchRule) Name() string { return "search" }

func (r *SearchRule) Validate(cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if cfg.MaxConcurrentFlows <= 0 {
		return errors.New("max concurrent flows must be positive")
	}
	switch cfg.VerifyMode {
	case VerifyMerkle, VerifyContract:
	default:
		return fmt.Errorf("unknown verify mode %q", cfg.VerifyMode)
	}
	return cfg.BackOff().Validate()
}

// CronScheduleRule checks the resolution schedule.
type CronScheduleRule struct{}

func (r *CronScheduleRule) Name() string { return "cron_schedule" }

func (r *CronScheduleRule) Validate(cfg Config) error {
	return ValidateCronSchedule(cfg.ResolutionSchedule)
}

// ValidateCronSchedule validates a cron schedule expression using the robfig/cron parser
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return errors.New("cron schedule cannot be empty")
	}
	// 5-field parser to match the scheduler (no seconds)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// LogLevelRule checks that the log level is known to zap.
type LogLevelRule struct{}

func (r *LogLevelRule) Name() string { return "log_level" }

func (r *LogLevelRule) Validate(cfg Config) error {
	_, err := zapcore.ParseLevel(cfg.LogLevel)
	return err
}
