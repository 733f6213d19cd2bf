package pricemarket

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

func mustDecimal(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func flrUSD(t *testing.T) attestation.FeedID {
	t.Helper()
	id, err := attestation.FeedIDFromName("FLR/USD")
	require.NoError(t, err)
	return id
}

func TestResolve(t *testing.T) {
	feed := flrUSD(t)
	tests := []struct {
		name  string
		value int32
		want  Position
	}{
		{"above target", 25_341, Above},
		{"equal to target", 25_000, Below},
		{"below target", 24_999, Below},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMarket("m1", feed, mustDecimal(t, "0.25"))
			require.NoError(t, m.Lock(45))

			got, err := m.Resolve(&decoder.FeedPayload{VotingRoundID: 47, ID: feed, Value: tt.value, Decimals: 5})
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, Resolved, m.State())
			require.Equal(t, uint64(47), m.ResolvedRound())
		})
	}
}

func TestViolationsLeaveStateUntouched(t *testing.T) {
	feed := flrUSD(t)
	btc, err := attestation.FeedIDFromName("BTC/USD")
	require.NoError(t, err)

	m := NewMarket("m1", feed, mustDecimal(t, "0.25"))
	valid := &decoder.FeedPayload{VotingRoundID: 47, ID: feed, Value: 30_000, Decimals: 5}

	_, err = m.Resolve(valid)
	require.ErrorIs(t, err, consumers.ErrBusinessRule, "open market cannot resolve")

	require.NoError(t, m.Lock(46))
	require.ErrorIs(t, m.Lock(46), consumers.ErrBusinessRule)

	_, err = m.Resolve(&decoder.FeedPayload{VotingRoundID: 47, ID: btc, Value: 1})
	require.ErrorIs(t, err, consumers.ErrBusinessRule)
	_, err = m.Resolve(&decoder.FeedPayload{VotingRoundID: 45, ID: feed, Value: 1})
	require.ErrorIs(t, err, consumers.ErrBusinessRule)
	_, err = m.Resolve(nil)
	require.ErrorIs(t, err, consumers.ErrBusinessRule)

	require.Equal(t, Locked, m.State())
	require.Nil(t, m.FinalPrice())
	require.Equal(t, Undecided, m.Winning())

	got, err := m.Resolve(valid)
	require.NoError(t, err)
	require.Equal(t, Above, got)
	require.Equal(t, "0.30000", m.FinalPrice().String())

	_, err = m.Resolve(valid)
	require.ErrorIs(t, err, consumers.ErrBusinessRule, "resolves exactly once")
}
