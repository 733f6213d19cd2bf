package verifier

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/trufnetwork/fdc-relay/attestation"
)

// Protocol ids under which the relay stores round roots.
const (
	ProtocolFTSO uint64 = 100
	ProtocolFDC  uint64 = 200
)

// ProtocolFor returns the relay protocol id that publishes roots for t.
func ProtocolFor(t attestation.Type) uint64 {
	if t == attestation.TypeFeedData {
		return ProtocolFTSO
	}
	return ProtocolFDC
}

// RootSource returns the Merkle root published for a protocol and round.
type RootSource interface {
	MerkleRoot(ctx context.Context, protocolID, round uint64) ([32]byte, error)
}

// Leaf hashes an abi encoded response into its Merkle leaf.
func Leaf(response []byte) [32]byte {
	return crypto.Keccak256Hash(response)
}

// HashPair hashes two nodes in sorted order.
func HashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// ProcessProof folds path into leaf and returns the implied root.
func ProcessProof(leaf [32]byte, path [][32]byte) [32]byte {
	h := leaf
	for _, node := range path {
		h = HashPair(h, node)
	}
	return h
}

// MerkleVerifier reconstructs the root off chain and compares it with the
// published one.
type MerkleVerifier struct {
	roots RootSource
}

func NewMerkleVerifier(roots RootSource) *MerkleVerifier {
	return &MerkleVerifier{roots: roots}
}

func (v *MerkleVerifier) Verify(ctx context.Context, t attestation.Type, rec *attestation.ProofRecord) (bool, error) {
	if len(rec.Response) == 0 {
		return false, nil
	}
	root, err := v.roots.MerkleRoot(ctx, ProtocolFor(t), rec.RoundID)
	if err != nil {
		return false, err
	}
	if root == ([32]byte{}) {
		return false, fmt.Errorf("no root published for round %d", rec.RoundID)
	}
	return ProcessProof(Leaf(rec.Response), rec.MerklePath) == root, nil
}

// Caller is the read-only part of an Ethereum client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const relayABI = `[{"type":"function","name":"merkleRoots","stateMutability":"view",
	"inputs":[{"name":"_protocolId","type":"uint256"},{"name":"_votingRoundId","type":"uint256"}],
	"outputs":[{"name":"","type":"bytes32"}]}]`

var relayContractABI gethAbi.ABI

func init() {
	var err error
	relayContractABI, err = gethAbi.JSON(strings.NewReader(relayABI))
	if err != nil {
		panic(fmt.Sprintf("verifier: failed to parse relay ABI: %v", err))
	}
}

// RelayRoots reads roots from the Relay contract.
type RelayRoots struct {
	caller  Caller
	address common.Address
}

func NewRelayRoots(caller Caller, relay common.Address) *RelayRoots {
	return &RelayRoots{caller: caller, address: relay}
}

func (r *RelayRoots) MerkleRoot(ctx context.Context, protocolID, round uint64) ([32]byte, error) {
	data, err := relayContractABI.Pack("merkleRoots", new(big.Int).SetUint64(protocolID), new(big.Int).SetUint64(round))
	if err != nil {
		return [32]byte{}, fmt.Errorf("pack merkleRoots: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("call merkleRoots(%d, %d): %w", protocolID, round, err)
	}
	values, err := relayContractABI.Unpack("merkleRoots", out)
	if err != nil {
		return [32]byte{}, fmt.Errorf("unpack merkleRoots: %w", err)
	}
	return values[0].([32]byte), nil
}
