// Package pricemarket settles binary price prediction markets from verified
// feed values.
package pricemarket

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/apd/v3"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

const name = "pricemarket"

type State int

const (
	Open State = iota
	Locked
	Resolved
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Locked:
		return "locked"
	case Resolved:
		return "resolved"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Position is the side of the target the final price landed on.
type Position int

const (
	Undecided Position = iota
	Above
	Below
)

func (p Position) String() string {
	switch p {
	case Above:
		return "above"
	case Below:
		return "below"
	}
	return "undecided"
}

// Market moves Open -> Locked -> Resolved, each step exactly once.
type Market struct {
	ID     string
	Feed   attestation.FeedID
	Target *apd.Decimal

	mu            sync.Mutex
	state         State
	lockRound     uint64
	winning       Position
	finalPrice    *apd.Decimal
	resolvedRound uint64
}

func NewMarket(id string, feed attestation.FeedID, target *apd.Decimal) *Market {
	return &Market{ID: id, Feed: feed, Target: target}
}

// Lock stops trading. Only feed values from round or later can settle the
// market.
func (m *Market) Lock(round uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open {
		return consumers.Violate(name, "lock requires an open market", "market %s is %s", m.ID, m.state)
	}
	m.state, m.lockRound = Locked, round
	return nil
}

// Resolve settles the market with a verified feed value: a final price above
// the target wins Above, anything else wins Below.
func (m *Market) Resolve(p *decoder.FeedPayload) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state != Locked:
		return Undecided, consumers.Violate(name, "resolve requires a locked market", "market %s is %s", m.ID, m.state)
	case p == nil:
		return Undecided, consumers.Violate(name, "missing feed value", "")
	case p.FeedID() != m.Feed:
		return Undecided, consumers.Violate(name, "wrong feed", "got %s, want %s", p.FeedID().Name(), m.Feed.Name())
	case p.Round() < m.lockRound:
		return Undecided, consumers.Violate(name, "stale feed value", "round %d precedes lock round %d", p.Round(), m.lockRound)
	}

	price := p.Decimal()
	winning := Below
	if price.Cmp(m.Target) > 0 {
		winning = Above
	}
	m.state, m.winning, m.finalPrice, m.resolvedRound = Resolved, winning, price, p.Round()
	return winning, nil
}

func (m *Market) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Market) Winning() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winning
}

// FinalPrice is nil until the market resolves.
func (m *Market) FinalPrice() *apd.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalPrice
}

func (m *Market) ResolvedRound() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolvedRound
}
