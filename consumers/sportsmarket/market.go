// Package sportsmarket settles match-winner markets from verified Web2Json
// match results.
package sportsmarket

import (
	"fmt"
	"sync"

	"github.com/golang-sql/civil"

	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

const name = "sportsmarket"

// FinishedStatus is the status a result must carry to settle a market.
const FinishedStatus = "Match Finished"

// ResultSignature is the ABI signature requests for match results declare.
const ResultSignature = `{"type":"tuple","components":[` +
	`{"name":"matchId","type":"uint256"},` +
	`{"name":"homeScore","type":"uint8"},` +
	`{"name":"awayScore","type":"uint8"},` +
	`{"name":"status","type":"string"}]}`

// MatchResult is the decoded shape of ResultSignature.
type MatchResult struct {
	MatchID   uint64 `abi:"matchId"`
	HomeScore uint8  `abi:"homeScore"`
	AwayScore uint8  `abi:"awayScore"`
	Status    string `abi:"status"`
}

type State int

const (
	Open State = iota
	Locked
	Resolved
	Canceled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Locked:
		return "locked"
	case Resolved:
		return "resolved"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Market moves Open -> Locked -> Resolved or Canceled. A drawn match cancels
// the market and no winner is recorded.
type Market struct {
	ID       string
	MatchID  uint64
	HomeTeam string
	AwayTeam string
	Date     civil.Date

	mu        sync.Mutex
	state     State
	lockRound uint64
	winner    string
	result    *MatchResult
}

func NewMarket(id string, matchID uint64, home, away string, date civil.Date) *Market {
	return &Market{ID: id, MatchID: matchID, HomeTeam: home, AwayTeam: away, Date: date}
}

func (m *Market) Lock(round uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open {
		return consumers.Violate(name, "lock requires an open market", "market %s is %s", m.ID, m.state)
	}
	m.state, m.lockRound = Locked, round
	return nil
}

// Resolve applies a verified match result and returns the resulting state.
func (m *Market) Resolve(p *decoder.Web2JsonPayload) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Locked {
		return m.state, consumers.Violate(name, "resolve requires a locked market", "market %s is %s", m.ID, m.state)
	}
	if p == nil {
		return m.state, consumers.Violate(name, "missing match result", "")
	}
	if p.Round() < m.lockRound {
		return m.state, consumers.Violate(name, "stale match result", "round %d precedes lock round %d", p.Round(), m.lockRound)
	}
	var res MatchResult
	if err := p.Into(&res); err != nil {
		return m.state, consumers.Violate(name, "malformed match result", "%v", err)
	}
	if res.MatchID != m.MatchID {
		return m.state, consumers.Violate(name, "wrong match", "got %d, want %d", res.MatchID, m.MatchID)
	}
	if res.Status != FinishedStatus {
		return m.state, consumers.Violate(name, "match not finished", "status %q", res.Status)
	}

	switch {
	case res.HomeScore > res.AwayScore:
		m.state, m.winner = Resolved, m.HomeTeam
	case res.AwayScore > res.HomeScore:
		m.state, m.winner = Resolved, m.AwayTeam
	default:
		m.state = Canceled
	}
	m.result = &res
	return m.state, nil
}

func (m *Market) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Winner is empty unless the market resolved.
func (m *Market) Winner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winner
}

func (m *Market) Result() (MatchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return MatchResult{}, false
	}
	return *m.result, true
}
