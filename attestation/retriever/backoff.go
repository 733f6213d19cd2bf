package retriever

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackOffKind selects the wait strategy between search attempts.
type BackOffKind string

const (
	BackOffNone        BackOffKind = "none"
	BackOffConstant    BackOffKind = "constant"
	BackOffExponential BackOffKind = "exponential"
)

type BackOffConfig struct {
	Kind        BackOffKind
	Interval    time.Duration
	MaxInterval time.Duration
}

func (c BackOffConfig) Validate() error {
	switch c.Kind {
	case BackOffNone, "":
		return nil
	case BackOffConstant, BackOffExponential:
		if c.Interval <= 0 {
			return fmt.Errorf("%s backoff requires a positive interval", c.Kind)
		}
		if c.Kind == BackOffExponential && c.MaxInterval > 0 && c.MaxInterval < c.Interval {
			return fmt.Errorf("backoff max interval %s is below interval %s", c.MaxInterval, c.Interval)
		}
		return nil
	}
	return fmt.Errorf("unknown backoff kind %q", c.Kind)
}

// Factory returns a constructor suitable for WithBackOff. The attempt budget
// bounds the search, so exponential backoff never gives up on elapsed time.
func (c BackOffConfig) Factory() func() backoff.BackOff {
	switch c.Kind {
	case BackOffConstant:
		return func() backoff.BackOff { return backoff.NewConstantBackOff(c.Interval) }
	case BackOffExponential:
		return func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = c.Interval
			if c.MaxInterval > 0 {
				b.MaxInterval = c.MaxInterval
			}
			b.MaxElapsedTime = 0
			return b
		}
	}
	return func() backoff.BackOff { return &backoff.ZeroBackOff{} }
}
