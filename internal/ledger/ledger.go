// Package ledger persists submitted attestation requests so each request is
// sent to the hub at most once and searches can resume after a restart.
package ledger

import (
	"bytes"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/trufnetwork/fdc-relay/attestation"
)

var ErrNotFound = errors.New("ledger entry not found")

type Status string

// An entry moves submitting -> pending -> resolved -> delivered. failed and
// rejected are terminal.
const (
	// StatusSubmitting is a signed transaction whose receipt was not seen yet.
	// It is settled by its receipt and never sent again.
	StatusSubmitting Status = "submitting"
	StatusPending    Status = "pending"
	// StatusResolved holds a verified response not yet taken by its consumer.
	StatusResolved  Status = "resolved"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	// StatusRejected is a payload the consumer refused by its business rules.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further work is done for an entry in s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRejected
}

// SpecRecord is the stored form of an attestation.Spec.
type SpecRecord struct {
	Type        attestation.Type     `json:"type"`
	SourceID    attestation.SourceID `json:"sourceId"`
	RequestBody map[string]any       `json:"requestBody"`
	ResponseABI string               `json:"responseAbi,omitempty"`
}

func FromSpec(s attestation.Spec) SpecRecord {
	return SpecRecord{Type: s.Type, SourceID: s.SourceID, RequestBody: s.RequestBody, ResponseABI: s.ResponseABI}
}

func (r SpecRecord) Spec() (attestation.Spec, error) {
	return attestation.NewSpec(r.Type, r.SourceID, r.RequestBody, r.ResponseABI)
}

// Entry is one submitted request.
type Entry struct {
	Key         common.Hash   `json:"key"`
	Request     hexutil.Bytes `json:"request"`
	Spec        SpecRecord    `json:"spec"`
	TxHash      common.Hash   `json:"txHash"`
	BlockNumber uint64        `json:"blockNumber"`
	Timestamp   uint64        `json:"timestamp"`
	RoundID     uint64        `json:"roundId"`
	Fee         *big.Int      `json:"fee"`
	// Consumer names who receives the payload, e.g. "sportsmarket".
	Consumer  string    `json:"consumer,omitempty"`
	Status    Status    `json:"status"`
	Searches  int       `json:"searches"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ProofRound and Response are set once the proof was verified.
	ProofRound uint64        `json:"proofRound,omitempty"`
	Response   hexutil.Bytes `json:"response,omitempty"`
}

var keyPrefix = []byte("submission/")

func dbKey(key common.Hash) []byte {
	return append(append([]byte{}, keyPrefix...), key.Bytes()...)
}

// Store is a pebble backed ledger.
type Store struct {
	mu  sync.Mutex
	db  *pebble.DB
	now func() time.Time
}

// Open opens or creates the ledger in dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens a ledger that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger at %q", dir)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "close ledger")
}

// Create stores a new entry. It fails if an entry with the same key exists,
// which is what keeps a request from being submitted twice.
func (s *Store) Create(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(e.Key); err == nil {
		return errors.Errorf("request %s already recorded", e.Key.Hex())
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = StatusPending
	}
	return s.put(e)
}

func (s *Store) Get(key common.Hash) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// Update applies fn to the stored entry and writes the result back.
func (s *Store) Update(key common.Hash, fn func(*Entry) error) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		return nil, err
	}
	e.Key = key
	e.UpdatedAt = s.now().UTC()
	if err := s.put(e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the entries with the given status, or all entries when status
// is empty, ordered by key.
func (s *Store) List(status Status) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upper := append(append([]byte{}, keyPrefix[:len(keyPrefix)-1]...), keyPrefix[len(keyPrefix)-1]+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, "iterate ledger")
	}
	defer iter.Close()

	var out []*Entry
	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decode(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "decode entry %x", iter.Key())
		}
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, errors.Wrap(iter.Error(), "iterate ledger")
}

func (s *Store) Delete(key common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.db.Delete(dbKey(key), pebble.Sync), "delete ledger entry")
}

func (s *Store) get(key common.Hash) (*Entry, error) {
	raw, closer, err := s.db.Get(dbKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "request %s", key.Hex())
	}
	if err != nil {
		return nil, errors.Wrap(err, "read ledger")
	}
	defer closer.Close()
	return decode(raw)
}

func (s *Store) put(e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}
	return errors.Wrap(s.db.Set(dbKey(e.Key), raw, pebble.Sync), "write ledger")
}

func decode(raw []byte) (*Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// keep request body numbers exact so the request re-encodes identically
	dec.UseNumber()
	var e Entry
	if err := dec.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}
