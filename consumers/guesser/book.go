// Package guesser scores price guesses against verified feed values.
package guesser

import (
	"sort"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

const name = "guesser"

var decimalCtx = apd.BaseContext.WithPrecision(34)

// Guess is a player's price prediction for a feed at a target round.
type Guess struct {
	ID     uuid.UUID
	Player string
	Price  *apd.Decimal
	Round  uint64

	Resolved bool
	Actual   *apd.Decimal
	Error    *apd.Decimal
}

// Book holds guesses on a single feed. Each guess resolves exactly once.
type Book struct {
	Feed attestation.FeedID

	mu      sync.Mutex
	guesses map[uuid.UUID]*Guess
}

func NewBook(feed attestation.FeedID) *Book {
	return &Book{Feed: feed, guesses: make(map[uuid.UUID]*Guess)}
}

// Place records a guess that resolves with the feed value of round or later.
func (b *Book) Place(player string, price *apd.Decimal, round uint64) (uuid.UUID, error) {
	if player == "" {
		return uuid.Nil, consumers.Violate(name, "player required", "")
	}
	if price == nil || price.Negative {
		return uuid.Nil, consumers.Violate(name, "price must be non-negative", "%v", price)
	}
	g := &Guess{ID: uuid.New(), Player: player, Price: new(apd.Decimal).Set(price), Round: round}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.guesses[g.ID] = g
	return g.ID, nil
}

// Resolve scores one guess with a verified feed value and returns a copy of
// the resolved guess.
func (b *Book) Resolve(id uuid.UUID, p *decoder.FeedPayload) (Guess, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.guesses[id]
	if !ok {
		return Guess{}, consumers.Violate(name, "unknown guess", "%s", id)
	}
	if err := b.check(g, p); err != nil {
		return *g, err
	}
	if err := score(g, p.Decimal()); err != nil {
		return *g, err
	}
	return *g, nil
}

// ResolveDue scores every unresolved guess whose round the feed value covers.
// Guesses are returned ordered by error, closest first.
func (b *Book) ResolveDue(p *decoder.FeedPayload) ([]Guess, error) {
	if p == nil {
		return nil, consumers.Violate(name, "missing feed value", "")
	}
	if p.FeedID() != b.Feed {
		return nil, consumers.Violate(name, "wrong feed", "got %s, want %s", p.FeedID().Name(), b.Feed.Name())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	due := lo.Filter(lo.Values(b.guesses), func(g *Guess, _ int) bool {
		return b.check(g, p) == nil
	})
	for _, g := range due {
		if err := score(g, p.Decimal()); err != nil {
			return nil, err
		}
	}
	out := lo.Map(due, func(g *Guess, _ int) Guess { return *g })
	sort.Slice(out, func(i, j int) bool { return out[i].Error.Cmp(out[j].Error) < 0 })
	return out, nil
}

func (b *Book) Get(id uuid.UUID) (Guess, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.guesses[id]
	if !ok {
		return Guess{}, false
	}
	return *g, true
}

// Pending lists unresolved guesses.
func (b *Book) Pending() []Guess {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := lo.Filter(lo.Values(b.guesses), func(g *Guess, _ int) bool { return !g.Resolved })
	return lo.Map(pending, func(g *Guess, _ int) Guess { return *g })
}

func (b *Book) check(g *Guess, p *decoder.FeedPayload) error {
	switch {
	case g.Resolved:
		return consumers.Violate(name, "guess already resolved", "%s", g.ID)
	case p == nil:
		return consumers.Violate(name, "missing feed value", "")
	case p.FeedID() != b.Feed:
		return consumers.Violate(name, "wrong feed", "got %s, want %s", p.FeedID().Name(), b.Feed.Name())
	case p.Round() < g.Round:
		return consumers.Violate(name, "feed value precedes target round", "round %d < %d", p.Round(), g.Round)
	}
	return nil
}

func score(g *Guess, actual *apd.Decimal) error {
	diff := new(apd.Decimal)
	if _, err := decimalCtx.Sub(diff, g.Price, actual); err != nil {
		return consumers.Violate(name, "scoring failed", "%v", err)
	}
	diff.Abs(diff)
	g.Resolved, g.Actual, g.Error = true, actual, diff
	return nil
}
