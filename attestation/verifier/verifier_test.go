package verifier

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum"
	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
)

type staticRoots map[uint64][32]byte

func (s staticRoots) MerkleRoot(_ context.Context, _ uint64, round uint64) ([32]byte, error) {
	return s[round], nil
}

// tree builds a four leaf tree and returns the root plus the path of leaf 0.
func tree(leaves [4][]byte) ([32]byte, [][32]byte) {
	h := [4][32]byte{}
	for i, l := range leaves {
		h[i] = Leaf(l)
	}
	left := HashPair(h[0], h[1])
	right := HashPair(h[2], h[3])
	return HashPair(left, right), [][32]byte{h[1], right}
}

func feedResponse(t *testing.T, round uint32, value int32) []byte {
	t.Helper()
	id, err := attestation.FeedIDFromName("FLR/USD")
	require.NoError(t, err)
	raw, err := decoder.EncodeFeedData(decoder.FeedPayload{VotingRoundID: round, ID: id, Value: value, Decimals: 5})
	require.NoError(t, err)
	return raw
}

func TestMerkleVerifier(t *testing.T) {
	response := feedResponse(t, 47, 25_341)
	root, path := tree([4][]byte{response, {1}, {2}, {3}})
	v := NewMerkleVerifier(staticRoots{47: root})
	ctx := context.Background()

	rec := &attestation.ProofRecord{RoundID: 47, MerklePath: path, Response: response}
	require.NoError(t, Check(ctx, v, attestation.TypeFeedData, rec, zap.NewNop()))
	require.True(t, rec.Verified)

	t.Run("tampered path", func(t *testing.T) {
		bad := rec.Clone()
		bad.MerklePath[1][0] ^= 0xff
		err := Check(ctx, v, attestation.TypeFeedData, bad, zap.NewNop())
		require.ErrorIs(t, err, attestation.ErrVerificationFailed)
		require.False(t, bad.Verified)

		_, err = decoder.New().Decode(attestation.Spec{Type: attestation.TypeFeedData}, bad)
		require.ErrorIs(t, err, attestation.ErrDecode)
	})

	t.Run("tampered response", func(t *testing.T) {
		bad := rec.Clone()
		bad.Response = feedResponse(t, 47, 99_999)
		require.ErrorIs(t, Check(ctx, v, attestation.TypeFeedData, bad, zap.NewNop()), attestation.ErrVerificationFailed)
	})

	t.Run("wrong round", func(t *testing.T) {
		bad := rec.Clone()
		bad.RoundID = 46
		require.ErrorIs(t, Check(ctx, v, attestation.TypeFeedData, bad, zap.NewNop()), attestation.ErrVerificationFailed)
	})
}

func TestProcessProofIsOrderIndependent(t *testing.T) {
	a, b := Leaf([]byte("a")), Leaf([]byte("b"))
	require.Equal(t, HashPair(a, b), HashPair(b, a))
	require.Equal(t, a, ProcessProof(a, nil))
}

// fakeChain answers eth_call by decoding the calldata the way the contract
// would and comparing it with the expected proof.
type fakeChain struct {
	t        *testing.T
	typ      attestation.Type
	wantPath [][32]byte
	wantData []byte
	err      error
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := verifyMethods[f.typ].method
	require.Equal(f.t, m.ID, msg.Data[:4])

	values, err := m.Inputs.Unpack(msg.Data[4:])
	require.NoError(f.t, err)
	proof := reflect.ValueOf(values[0])
	path := proof.Field(0).Interface().([][32]byte)

	responseType, err := decoder.ResponseType(f.typ)
	require.NoError(f.t, err)
	data, err := gethAbi.Arguments{{Type: responseType}}.Pack(proof.Field(1).Interface())
	require.NoError(f.t, err)

	ok := reflect.DeepEqual(f.wantPath, path) && reflect.DeepEqual(f.wantData, data)
	return m.Outputs.Pack(ok)
}

func TestContractVerifierFeedData(t *testing.T) {
	response := feedResponse(t, 47, 25_341)
	path := [][32]byte{common.HexToHash("0x01"), common.HexToHash("0x02")}
	chain := &fakeChain{t: t, typ: attestation.TypeFeedData, wantPath: path, wantData: response}
	v := NewContractVerifier(chain, common.HexToAddress("0x1000000000000000000000000000000000000001"))

	ok, err := v.Verify(context.Background(), attestation.TypeFeedData,
		&attestation.ProofRecord{RoundID: 47, MerklePath: path, Response: response})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify(context.Background(), attestation.TypeFeedData,
		&attestation.ProofRecord{RoundID: 47, MerklePath: path[:1], Response: response})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestContractVerifierEVMTransaction(t *testing.T) {
	spec, err := attestation.NewSpec(attestation.TypeEVMTransaction, "testETH", nil, "")
	require.NoError(t, err)
	response, err := decoder.EncodeEVMTransaction(decoder.EVMTransactionPayload{
		AttestationType: spec.Type.Bytes32(),
		SourceID:        spec.SourceID.Bytes32(),
		VotingRound:     47,
		RequestBody: decoder.EVMTransactionRequestBody{
			TransactionHash: common.HexToHash("0xabc"),
			LogIndices:      []uint32{1},
		},
		ResponseBody: decoder.EVMTransactionResponseBody{
			Value:  big.NewInt(5),
			Input:  []byte{0xaa},
			Status: 1,
			Events: []decoder.EVMEvent{{Topics: [][32]byte{common.HexToHash("0x03")}, Data: []byte{0xbb}}},
		},
	})
	require.NoError(t, err)

	path := [][32]byte{common.HexToHash("0x04")}
	chain := &fakeChain{t: t, typ: attestation.TypeEVMTransaction, wantPath: path, wantData: response}
	v := NewContractVerifier(chain, common.Address{})

	rec := &attestation.ProofRecord{RoundID: 47, MerklePath: path, Response: response}
	require.NoError(t, Check(context.Background(), v, attestation.TypeEVMTransaction, rec, zap.NewNop()))
	require.True(t, rec.Verified)
}

func TestContractVerifierCallError(t *testing.T) {
	chain := &fakeChain{t: t, typ: attestation.TypeFeedData, err: errors.New("rpc down")}
	rec := &attestation.ProofRecord{RoundID: 47, Response: feedResponse(t, 47, 1)}
	err := Check(context.Background(), NewContractVerifier(chain, common.Address{}), attestation.TypeFeedData, rec, zap.NewNop())
	require.ErrorIs(t, err, attestation.ErrVerificationFailed)
	require.False(t, rec.Verified)
}

func TestProofCalldataRejectsMalformedResponse(t *testing.T) {
	_, err := ProofCalldata(attestation.TypeFeedData, &attestation.ProofRecord{Response: []byte{1, 2, 3}})
	require.Error(t, err)
	_, err = ProofCalldata(attestation.TypeEVMTransaction, &attestation.ProofRecord{Response: feedResponse(t, 47, 1)})
	require.Error(t, err)
	_, err = ProofCalldata("Payment", &attestation.ProofRecord{})
	require.Error(t, err)
}

func TestProofCalldataLayout(t *testing.T) {
	response := feedResponse(t, 47, 25_341)
	path := [][32]byte{common.HexToHash("0x01")}
	data, err := ProofCalldata(attestation.TypeFeedData, &attestation.ProofRecord{MerklePath: path, Response: response})
	require.NoError(t, err)

	// the proof tuple is dynamic, so the arguments start with its offset
	m := verifyMethods[attestation.TypeFeedData].method
	require.Equal(t, m.ID, data[:4])
	require.Equal(t, common.BigToHash(big.NewInt(32)).Bytes(), data[4:36])

	// each path node is one word
	empty, err := ProofCalldata(attestation.TypeFeedData, &attestation.ProofRecord{Response: response})
	require.NoError(t, err)
	require.Len(t, empty, len(data)-32)
}

type fakeRelay struct {
	root [32]byte
	got  []byte
}

func (f *fakeRelay) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.got = msg.Data
	return relayContractABI.Methods["merkleRoots"].Outputs.Pack(f.root)
}

func TestRelayRoots(t *testing.T) {
	relay := &fakeRelay{root: common.HexToHash("0x99")}
	root, err := NewRelayRoots(relay, common.Address{}).MerkleRoot(context.Background(), ProtocolFDC, 47)
	require.NoError(t, err)
	require.Equal(t, [32]byte(common.HexToHash("0x99")), root)

	args, err := relayContractABI.Methods["merkleRoots"].Inputs.Unpack(relay.got[4:])
	require.NoError(t, err)
	require.Equal(t, int64(200), args[0].(*big.Int).Int64())
	require.Equal(t, int64(47), args[1].(*big.Int).Int64())
	require.Equal(t, ProtocolFTSO, ProtocolFor(attestation.TypeFeedData))
}
