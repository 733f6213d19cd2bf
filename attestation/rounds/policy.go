// Package rounds decides which voting rounds to query for a proof and maps
// chain timestamps onto voting rounds.
package rounds

import "fmt"

// DefaultMaxAttempts bounds the backward search when no limit is configured.
const DefaultMaxAttempts = 5

// Policy produces the ordered candidate rounds for a proof search.
//
// The latest reported round is never trusted as finalized, so the search
// starts one round earlier and walks backwards.
type Policy struct {
	MaxAttempts int
	// Floor is the oldest round worth probing. A request cannot be proven in
	// a round before the one it was accepted into. Zero means no floor.
	Floor uint64
}

func NewPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Policy{MaxAttempts: maxAttempts}
}

// WithFloor returns a copy of p that never searches below floor.
func (p Policy) WithFloor(floor uint64) Policy {
	p.Floor = floor
	return p
}

// Start is the first candidate for a reported latest round. ok is false when
// there is no finalized round yet.
func (p Policy) Start(latest uint64) (start uint64, ok bool) {
	if latest == 0 {
		return 0, false
	}
	return latest - 1, true
}

// Candidates returns start, start-1, ... strictly decreasing, at most
// MaxAttempts long and never below Floor or round 0.
func (p Policy) Candidates(latest uint64) []uint64 {
	start, ok := p.Start(latest)
	if !ok || start < p.Floor {
		return nil
	}

	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}

	out := make([]uint64, 0, limit)
	for round := start; len(out) < limit; round-- {
		out = append(out, round)
		if round == 0 || round == p.Floor {
			break
		}
	}
	return out
}

// Passed reports whether the window for latest starts so far after Floor that
// Floor is no longer among the candidates. It is always false without a floor.
func (p Policy) Passed(latest uint64) bool {
	if p.Floor == 0 {
		return false
	}
	start, ok := p.Start(latest)
	if !ok || start < p.Floor {
		return false
	}
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	return start-p.Floor >= uint64(limit)
}

func (p Policy) String() string {
	return fmt.Sprintf("rounds.Policy{max=%d floor=%d}", p.MaxAttempts, p.Floor)
}
