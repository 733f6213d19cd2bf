package sportsmarket

import (
	"fmt"
	"os"
	"sync"

	"github.com/golang-sql/civil"
	"gopkg.in/yaml.v3"

	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

// MarketFile is the YAML form of the markets a relay settles:
//
//	markets:
//	  - id: cup-final
//	    match_id: 1208021
//	    home: Arsenal
//	    away: Chelsea
//	    date: 2025-05-24
type MarketFile struct {
	Markets []struct {
		ID      string `yaml:"id"`
		MatchID uint64 `yaml:"match_id"`
		Home    string `yaml:"home"`
		Away    string `yaml:"away"`
		Date    string `yaml:"date"`
	} `yaml:"markets"`
}

// Registry holds markets by the match they settle on.
type Registry struct {
	mu      sync.RWMutex
	byMatch map[uint64]*Market
}

func NewRegistry() *Registry {
	return &Registry{byMatch: make(map[uint64]*Market)}
}

// LoadRegistry reads a market file. Every market starts open.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market file: %w", err)
	}
	return ParseRegistry(raw)
}

func ParseRegistry(raw []byte) (*Registry, error) {
	var f MarketFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse market file: %w", err)
	}
	r := NewRegistry()
	for i, m := range f.Markets {
		if m.ID == "" || m.MatchID == 0 {
			return nil, fmt.Errorf("market %d: id and match_id are required", i)
		}
		date, err := civil.ParseDate(m.Date)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m.ID, err)
		}
		if err := r.Add(NewMarket(m.ID, m.MatchID, m.Home, m.Away, date)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add rejects a second market on the same match.
func (r *Registry) Add(m *Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byMatch[m.MatchID]; ok {
		return fmt.Errorf("match %d already settles market %s", m.MatchID, prev.ID)
	}
	r.byMatch[m.MatchID] = m
	return nil
}

func (r *Registry) ByMatch(matchID uint64) (*Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byMatch[matchID]
	return m, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMatch)
}

// Settle applies a verified match result to the market it names. An open
// market is locked at lockRound first, so the result must come from that
// round or later.
func (r *Registry) Settle(p *decoder.Web2JsonPayload, lockRound uint64) (*Market, State, error) {
	if p == nil {
		return nil, Open, consumers.Violate(name, "missing match result", "")
	}
	var res MatchResult
	if err := p.Into(&res); err != nil {
		return nil, Open, consumers.Violate(name, "malformed match result", "%v", err)
	}
	m, ok := r.ByMatch(res.MatchID)
	if !ok {
		return nil, Open, consumers.Violate(name, "unknown match", "match %d has no market", res.MatchID)
	}
	if m.State() == Open {
		if err := m.Lock(lockRound); err != nil {
			return m, m.State(), err
		}
	}
	state, err := m.Resolve(p)
	return m, state, err
}
