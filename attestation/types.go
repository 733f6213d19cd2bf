package attestation

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"maps"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type names an attestation type as understood by the verifier service and the
// hub contract.
type Type string

const (
	TypeEVMTransaction Type = "EVMTransaction"
	TypeWeb2Json       Type = "Web2Json"
	TypeFeedData       Type = "FeedData"
)

// Valid reports whether t is one of the supported attestation types.
func (t Type) Valid() bool {
	switch t {
	case TypeEVMTransaction, TypeWeb2Json, TypeFeedData:
		return true
	}
	return false
}

// Bytes32 returns the on-chain encoding: ASCII name right-padded with zeros.
func (t Type) Bytes32() [32]byte {
	return toBytes32(string(t))
}

// SourceID identifies the data source an attestation reads from, e.g. "testETH"
// or "PublicWeb2".
type SourceID string

func (s SourceID) Bytes32() [32]byte {
	return toBytes32(string(s))
}

func toBytes32(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)
	return out
}

// Bytes32Hex renders a bytes32 value as 0x-prefixed hex.
func Bytes32Hex(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}

// Spec describes one attestation request. Build it with NewSpec; a Spec is not
// modified afterwards.
type Spec struct {
	Type        Type
	SourceID    SourceID
	RequestBody map[string]any
	// ResponseABI is the declared response shape as a JSON ABI argument. It is
	// required for Web2Json and ignored for the fixed-shape types.
	ResponseABI string
}

// NewSpec validates the inputs and returns a Spec holding its own copy of the
// request body.
func NewSpec(t Type, source SourceID, body map[string]any, responseABI string) (Spec, error) {
	if !t.Valid() {
		return Spec{}, fmt.Errorf("unsupported attestation type %q", t)
	}
	if strings.TrimSpace(string(source)) == "" {
		return Spec{}, fmt.Errorf("source id cannot be empty")
	}
	if len(source) > 32 {
		return Spec{}, fmt.Errorf("source id %q longer than 32 bytes", source)
	}
	if t == TypeWeb2Json && strings.TrimSpace(responseABI) == "" {
		return Spec{}, fmt.Errorf("%s requires a response abi signature", t)
	}
	return Spec{
		Type:        t,
		SourceID:    source,
		RequestBody: maps.Clone(body),
		ResponseABI: responseABI,
	}, nil
}

// EncodedRequest is the ABI encoded request produced by the verifier service.
// It is the unit submitted to the hub and the lookup key for proofs.
type EncodedRequest []byte

// ParseEncodedRequest decodes a 0x-prefixed hex string.
func ParseEncodedRequest(s string) (EncodedRequest, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("encoded request cannot be empty")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid encoded request hex: %w", err)
	}
	return EncodedRequest(b), nil
}

func (r EncodedRequest) Hex() string {
	return "0x" + hex.EncodeToString(r)
}

// Key is keccak256 of the request bytes; it identifies the request in the
// submission ledger.
func (r EncodedRequest) Key() common.Hash {
	return crypto.Keccak256Hash(r)
}

func (r EncodedRequest) Equal(other EncodedRequest) bool {
	return bytes.Equal(r, other)
}

// RoundStatus is the externally owned status of a voting round.
type RoundStatus int

const (
	RoundPending RoundStatus = iota
	RoundFinalized
)

func (s RoundStatus) String() string {
	if s == RoundFinalized {
		return "finalized"
	}
	return "pending"
}

// VotingRound is an observation of a round; the pipeline never changes it.
type VotingRound struct {
	ID     uint64
	Status RoundStatus
}

// ObserveLatest builds the view implied by the DA layer "latest round" report:
// the reported round is still pending, everything before it is finalized.
func ObserveLatest(latest uint64) (current VotingRound, lastFinalized VotingRound, ok bool) {
	current = VotingRound{ID: latest, Status: RoundPending}
	if latest == 0 {
		return current, VotingRound{}, false
	}
	return current, VotingRound{ID: latest - 1, Status: RoundFinalized}, true
}

// ProofRecord is a proof found on the DA layer. Verified is set only by a
// verifier after the Merkle path reconstructs the round root.
type ProofRecord struct {
	RoundID    uint64
	MerklePath [][32]byte
	Response   []byte
	Verified   bool
}

// Clone returns a deep copy with Verified cleared.
func (p *ProofRecord) Clone() *ProofRecord {
	if p == nil {
		return nil
	}
	path := make([][32]byte, len(p.MerklePath))
	copy(path, p.MerklePath)
	return &ProofRecord{
		RoundID:    p.RoundID,
		MerklePath: path,
		Response:   bytes.Clone(p.Response),
	}
}

// FeedID is the 21 byte identifier of an FTSO feed: a category byte followed
// by the feed name padded with zeros.
type FeedID [21]byte

const FeedCategoryCrypto byte = 0x01

// FeedIDFromName builds a crypto category feed id, e.g. "FLR/USD".
func FeedIDFromName(name string) (FeedID, error) {
	var id FeedID
	if name == "" || len(name) > 20 {
		return id, fmt.Errorf("feed name %q must be 1..20 bytes", name)
	}
	id[0] = FeedCategoryCrypto
	copy(id[1:], name)
	return id, nil
}

// ParseFeedID accepts either a 0x-prefixed 21 byte hex id or a feed name.
func ParseFeedID(s string) (FeedID, error) {
	if strings.HasPrefix(s, "0x") {
		var id FeedID
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return id, fmt.Errorf("invalid feed id hex %q: %w", s, err)
		}
		if len(raw) != len(id) {
			return id, fmt.Errorf("feed id must be %d bytes, got %d", len(id), len(raw))
		}
		copy(id[:], raw)
		return id, nil
	}
	return FeedIDFromName(s)
}

func (f FeedID) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

// Name returns the feed name without category byte or padding.
func (f FeedID) Name() string {
	return string(bytes.TrimRight(f[1:], "\x00"))
}
