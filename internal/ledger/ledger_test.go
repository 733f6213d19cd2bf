package ledger

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation"
)

func newEntry(t *testing.T, request attestation.EncodedRequest) *Entry {
	t.Helper()
	spec, err := attestation.NewSpec(attestation.TypeWeb2Json, "PublicWeb2",
		map[string]any{"url": "https://example.org", "limit": 12345678901234567},
		`{"type":"uint256"}`)
	require.NoError(t, err)
	return &Entry{
		Key:     request.Key(),
		Request: []byte(request),
		Spec:    FromSpec(spec),
		TxHash:  common.HexToHash("0x01"),
		RoundID: 47,
		Fee:     big.NewInt(1_000_000),
	}
}

func TestCreateIsAtMostOnce(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	e := newEntry(t, attestation.EncodedRequest{0xaa})
	require.NoError(t, s.Create(e))
	require.Equal(t, StatusPending, e.Status)

	err = s.Create(newEntry(t, attestation.EncodedRequest{0xaa}))
	require.Error(t, err)

	got, err := s.Get(e.Key)
	require.NoError(t, err)
	require.Equal(t, e.TxHash, got.TxHash)
	require.Equal(t, uint64(47), got.RoundID)
	require.Equal(t, 0, e.Fee.Cmp(got.Fee))
	require.Equal(t, attestation.EncodedRequest{0xaa}, attestation.EncodedRequest(got.Request))
}

func TestSpecSurvivesStorage(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	e := newEntry(t, attestation.EncodedRequest{0xbb})
	require.NoError(t, s.Create(e))

	got, err := s.Get(e.Key)
	require.NoError(t, err)
	spec, err := got.Spec.Spec()
	require.NoError(t, err)
	require.Equal(t, attestation.TypeWeb2Json, spec.Type)
	require.Equal(t, json.Number("12345678901234567"), spec.RequestBody["limit"])
}

func TestGetMissing(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(common.HexToHash("0x02"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateAndList(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	first := newEntry(t, attestation.EncodedRequest{0x01})
	second := newEntry(t, attestation.EncodedRequest{0x02})
	require.NoError(t, s.Create(first))
	require.NoError(t, s.Create(second))

	updated, err := s.Update(first.Key, func(e *Entry) error {
		e.Status = StatusResolved
		e.Searches++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated.Searches)

	_, err = s.Update(second.Key, func(*Entry) error { return errors.New("refused") })
	require.Error(t, err)

	pending, err := s.List(StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.Key, pending[0].Key)

	all, err := s.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.Delete(second.Key))
	pending, err = s.List(StatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestResolvedResponseSurvivesStorage(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	e := newEntry(t, attestation.EncodedRequest{0xcc})
	e.Status = StatusSubmitting
	require.NoError(t, s.Create(e))

	_, err = s.Update(e.Key, func(e *Entry) error {
		e.Status = StatusResolved
		e.ProofRound = 49
		e.Response = []byte{0xde, 0xad}
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(e.Key)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, got.Status)
	require.Equal(t, uint64(49), got.ProofRound)
	require.Equal(t, []byte{0xde, 0xad}, []byte(got.Response))
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusFailed, StatusRejected} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusSubmitting, StatusPending, StatusResolved, StatusDelivered} {
		require.False(t, s.Terminal(), s)
	}
}
