package rounds

import (
	"fmt"
	"time"
)

// Clock converts chain timestamps to voting round ids. Rounds have a fixed
// duration counted from the first round's start timestamp.
type Clock struct {
	FirstRoundStart uint64 // unix seconds
	Duration        time.Duration

	now func() time.Time
}

func NewClock(firstRoundStart uint64, duration time.Duration) (*Clock, error) {
	if duration < time.Second {
		return nil, fmt.Errorf("round duration must be at least one second, got %s", duration)
	}
	return &Clock{FirstRoundStart: firstRoundStart, Duration: duration, now: time.Now}, nil
}

// WithNow replaces the wall clock, for tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

func (c *Clock) seconds() uint64 {
	return uint64(c.Duration / time.Second)
}

// RoundAt returns the round containing timestamp ts (unix seconds). Timestamps
// before the first round map to an error.
func (c *Clock) RoundAt(ts uint64) (uint64, error) {
	if ts < c.FirstRoundStart {
		return 0, fmt.Errorf("timestamp %d precedes first voting round start %d", ts, c.FirstRoundStart)
	}
	return (ts - c.FirstRoundStart) / c.seconds(), nil
}

// RoundStart returns the unix start time of round.
func (c *Clock) RoundStart(round uint64) uint64 {
	return c.FirstRoundStart + round*c.seconds()
}

// Current returns the round the wall clock is in.
func (c *Clock) Current() (uint64, error) {
	return c.RoundAt(uint64(c.now().Unix()))
}

// UntilRoundEnd is the time left before round closes, zero if it already has.
func (c *Clock) UntilRoundEnd(round uint64) time.Duration {
	end := time.Unix(int64(c.RoundStart(round+1)), 0)
	if d := end.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}
