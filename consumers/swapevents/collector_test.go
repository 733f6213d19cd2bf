package swapevents

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

var (
	pool      = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	router    = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func swapLog(t *testing.T, index uint32, emitter common.Address, amount0 int64) decoder.EVMEvent {
	t.Helper()
	data, err := swapEvent.Inputs.NonIndexed().Pack(
		big.NewInt(amount0),
		big.NewInt(-2_000),
		new(big.Int).Lsh(big.NewInt(1), 96),
		big.NewInt(5_000_000),
		big.NewInt(-887_220),
	)
	require.NoError(t, err)
	return decoder.EVMEvent{
		LogIndex:       index,
		EmitterAddress: emitter,
		Topics: [][32]byte{
			SwapTopic(),
			common.BytesToHash(router.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		Data: data,
	}
}

func transaction(status uint8, events ...decoder.EVMEvent) *decoder.EVMTransactionPayload {
	return &decoder.EVMTransactionPayload{
		RequestBody: decoder.EVMTransactionRequestBody{TransactionHash: common.HexToHash("0xabc1")},
		ResponseBody: decoder.EVMTransactionResponseBody{
			BlockNumber: 19_000_000,
			Timestamp:   1_700_000_000,
			Status:      status,
			Value:       big.NewInt(0),
			Events:      events,
		},
	}
}

func TestCollect(t *testing.T) {
	c := NewCollector(pool)
	transfer := decoder.EVMEvent{LogIndex: 0, EmitterAddress: pool, Topics: [][32]byte{common.HexToHash("0xdd")}}

	got, err := c.Collect(transaction(1,
		transfer,
		swapLog(t, 1, pool, 1_000),
		swapLog(t, 2, router, 7),
		swapLog(t, 3, pool, 3_000),
	))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	require.Equal(t, uint32(1), first.LogIndex)
	require.Equal(t, router, first.Sender)
	require.Equal(t, recipient, first.Recipient)
	require.Equal(t, int64(1_000), first.Amount0.Int64())
	require.Equal(t, int64(-2_000), first.Amount1.Int64())
	require.Equal(t, int64(-887_220), first.Tick)
	require.Equal(t, uint64(19_000_000), first.BlockNumber)
	require.Equal(t, int64(3_000), got[1].Amount0.Int64())

	require.Len(t, c.Events(), 2)
}

func TestCollectOncePerTransaction(t *testing.T) {
	c := NewCollector(common.Address{})
	tx := transaction(1, swapLog(t, 1, router, 1))

	_, err := c.Collect(tx)
	require.NoError(t, err)
	_, err = c.Collect(tx)
	require.ErrorIs(t, err, consumers.ErrBusinessRule)
	require.Len(t, c.Events(), 1)
}

func TestCollectRejects(t *testing.T) {
	malformed := swapLog(t, 1, pool, 1)
	malformed.Data = malformed.Data[:40]

	tests := []struct {
		name string
		tx   *decoder.EVMTransactionPayload
	}{
		{"nil", nil},
		{"reverted", transaction(0, swapLog(t, 1, pool, 1))},
		{"no swaps", transaction(1)},
		{"other pool only", transaction(1, swapLog(t, 1, router, 1))},
		{"malformed data", transaction(1, malformed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(pool)
			_, err := c.Collect(tt.tx)
			require.ErrorIs(t, err, consumers.ErrBusinessRule)
			require.Empty(t, c.Events())
		})
	}
}
