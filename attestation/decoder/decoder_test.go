package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation"
)

const matchSignature = `{"type":"tuple","components":[
	{"name":"matchId","type":"uint256"},
	{"name":"homeScore","type":"uint8"},
	{"name":"awayScore","type":"uint8"},
	{"name":"status","type":"string"}]}`

type matchDTO struct {
	MatchID   *big.Int `abi:"matchId"`
	HomeScore uint8    `abi:"homeScore"`
	AwayScore uint8    `abi:"awayScore"`
	Status    string   `abi:"status"`
}

type matchResult struct {
	MatchID   uint64 `abi:"matchId"`
	HomeScore int    `abi:"homeScore"`
	AwayScore int    `abi:"awayScore"`
	Status    string
}

func mustSpec(t *testing.T, typ attestation.Type, source attestation.SourceID, abi string) attestation.Spec {
	t.Helper()
	spec, err := attestation.NewSpec(typ, source, map[string]any{"k": "v"}, abi)
	require.NoError(t, err)
	return spec
}

func verified(round uint64, response []byte) *attestation.ProofRecord {
	return &attestation.ProofRecord{RoundID: round, Response: response, Verified: true}
}

func TestFeedDataRoundTrip(t *testing.T) {
	id, err := attestation.FeedIDFromName("FLR/USD")
	require.NoError(t, err)

	in := FeedPayload{VotingRoundID: 47, ID: id, Value: 2_534_100, TurnoutBIPS: 9_876, Decimals: 7}
	raw, err := EncodeFeedData(in)
	require.NoError(t, err)
	require.Len(t, raw, 5*32)

	p, err := New().Decode(mustSpec(t, attestation.TypeFeedData, "FTSO", ""), verified(47, raw))
	require.NoError(t, err)

	feed, ok := p.(*FeedPayload)
	require.True(t, ok)
	require.Equal(t, in, *feed)
	require.Equal(t, id, feed.FeedID())
	require.Equal(t, "0.2534100", feed.Decimal().String())
}

func TestFeedDataNegativeDecimals(t *testing.T) {
	p := FeedPayload{Value: 42, Decimals: -2}
	require.Equal(t, "4.2E+3", p.Decimal().String())
}

func TestEVMTransactionRoundTrip(t *testing.T) {
	spec := mustSpec(t, attestation.TypeEVMTransaction, "testETH", "")
	in := EVMTransactionPayload{
		AttestationType:     spec.Type.Bytes32(),
		SourceID:            spec.SourceID.Bytes32(),
		VotingRound:         812_345,
		LowestUsedTimestamp: 1_700_000_000,
		RequestBody: EVMTransactionRequestBody{
			TransactionHash:       common.HexToHash("0xabc1"),
			RequiredConfirmations: 1,
			ProvideInput:          true,
			ListEvents:            true,
			LogIndices:            []uint32{0, 3},
		},
		ResponseBody: EVMTransactionResponseBody{
			BlockNumber:      19_000_000,
			Timestamp:        1_700_000_012,
			SourceAddress:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			ReceivingAddress: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
			Value:            big.NewInt(1_000_000_000),
			Input:            []byte{0x12, 0x34},
			Status:           1,
			Events: []EVMEvent{{
				LogIndex:       3,
				EmitterAddress: common.HexToAddress("0x00000000000000000000000000000000000000cc"),
				Topics:         [][32]byte{common.HexToHash("0x01"), common.HexToHash("0x02")},
				Data:           []byte{0xde, 0xad, 0xbe, 0xef},
			}},
		},
	}

	raw, err := EncodeEVMTransaction(in)
	require.NoError(t, err)

	p, err := New().Decode(spec, verified(in.VotingRound, raw))
	require.NoError(t, err)

	tx, ok := p.(*EVMTransactionPayload)
	require.True(t, ok)
	require.Equal(t, in, *tx)
	require.True(t, tx.Succeeded())
	require.Equal(t, attestation.TypeEVMTransaction, tx.AttestationType())
}

func TestWeb2JsonRoundTrip(t *testing.T) {
	spec := mustSpec(t, attestation.TypeWeb2Json, "PublicWeb2", matchSignature)

	data, err := EncodeData(matchSignature, matchDTO{
		MatchID:   big.NewInt(1_208_021),
		HomeScore: 2,
		AwayScore: 2,
		Status:    "Match Finished",
	})
	require.NoError(t, err)

	in := Web2JsonPayload{
		Header: ResponseHeader{
			AttestationType: spec.Type.Bytes32(),
			SourceID:        spec.SourceID.Bytes32(),
			VotingRound:     47,
		},
		RequestBody: Web2JsonRequestBody{
			URL:           "https://v3.football.api-sports.io/fixtures?id=1208021",
			HTTPMethod:    "GET",
			Headers:       "{}",
			QueryParams:   "{}",
			Body:          "{}",
			PostProcessJq: ".response[0]",
			AbiSignature:  matchSignature,
		},
		ResponseBody: Web2JsonResponseBody{AbiEncodedData: data},
	}
	raw, err := EncodeWeb2Json(in)
	require.NoError(t, err)

	p, err := New().Decode(spec, verified(47, raw))
	require.NoError(t, err)

	web, ok := p.(*Web2JsonPayload)
	require.True(t, ok)
	require.Equal(t, in.Header, web.Header)
	require.Equal(t, in.RequestBody, web.RequestBody)
	require.Equal(t, data, web.ResponseBody.AbiEncodedData)
	require.Equal(t, "Match Finished", web.Fields["status"])
	require.Equal(t, uint8(2), web.Fields["homeScore"])

	var got matchResult
	require.NoError(t, web.Into(&got))
	require.Equal(t, matchResult{MatchID: 1_208_021, HomeScore: 2, AwayScore: 2, Status: "Match Finished"}, got)
}

func TestDecodeDataScalar(t *testing.T) {
	raw, err := EncodeData(`{"type":"uint256"}`, big.NewInt(7))
	require.NoError(t, err)

	fields, err := DecodeData(`{"type":"uint256"}`, raw)
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(7).Cmp(fields["value"].(*big.Int)))
}

func TestDecodeRejects(t *testing.T) {
	feedSpec := mustSpec(t, attestation.TypeFeedData, "FTSO", "")
	raw, err := EncodeFeedData(FeedPayload{VotingRoundID: 47, Value: 1})
	require.NoError(t, err)

	evmSpec := mustSpec(t, attestation.TypeEVMTransaction, "testETH", "")
	evm, err := EncodeEVMTransaction(EVMTransactionPayload{
		AttestationType: evmSpec.Type.Bytes32(),
		SourceID:        attestation.SourceID("testBTC").Bytes32(),
		VotingRound:     47,
		ResponseBody:    EVMTransactionResponseBody{Value: big.NewInt(0)},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		spec attestation.Spec
		rec  *attestation.ProofRecord
	}{
		{"nil record", feedSpec, nil},
		{"unverified record", feedSpec, &attestation.ProofRecord{RoundID: 47, Response: raw}},
		{"empty response", feedSpec, verified(47, nil)},
		{"truncated response", feedSpec, verified(47, raw[:40])},
		{"round mismatch", feedSpec, verified(48, raw)},
		{"source mismatch", evmSpec, verified(47, evm)},
		{"wrong shape", evmSpec, verified(47, raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New().Decode(tt.spec, tt.rec)
			require.ErrorIs(t, err, attestation.ErrDecode)
			require.Nil(t, p)
		})
	}
}

func TestIsDynamic(t *testing.T) {
	feed, err := ResponseType(attestation.TypeFeedData)
	require.NoError(t, err)
	require.False(t, IsDynamic(feed))

	evm, err := ResponseType(attestation.TypeEVMTransaction)
	require.NoError(t, err)
	require.True(t, IsDynamic(evm))

	_, err = ResponseType("Payment")
	require.Error(t, err)
}

func TestIntoRejectsOverflow(t *testing.T) {
	p := &Web2JsonPayload{Fields: map[string]any{"matchId": new(big.Int).Lsh(big.NewInt(1), 80)}}
	var got matchResult
	require.ErrorIs(t, p.Into(&got), attestation.ErrDecode)
}
