package scheduler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/pipeline"
	"github.com/trufnetwork/fdc-relay/consumers"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
)

type mockResumer struct {
	mu      sync.Mutex
	results map[common.Hash]error
	calls   atomic.Int32
	panicOn common.Hash
}

func (m *mockResumer) Resume(_ context.Context, key common.Hash) (*pipeline.Result, error) {
	m.calls.Add(1)
	if key == m.panicOn {
		panic("resumer exploded")
	}
	m.mu.Lock()
	err := m.results[key]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{RoundID: 47}, nil
}

func newLedger(t *testing.T, names ...string) (*ledger.Store, []common.Hash) {
	t.Helper()
	store, err := ledger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	keys := make([]common.Hash, len(names))
	for i, c := range names {
		keys[i] = common.BigToHash(big.NewInt(int64(i + 1)))
		require.NoError(t, store.Create(&ledger.Entry{
			Key:      keys[i],
			Request:  []byte{byte(i)},
			Spec:     ledger.SpecRecord{Type: attestation.TypeWeb2Json, SourceID: "PublicWeb2"},
			RoundID:  45,
			Consumer: c,
		}))
	}
	return store, keys
}

func TestRunOnce(t *testing.T) {
	store, keys := newLedger(t, "ok", "ok", "ok", "reject", "nobody", "ok")
	resumer := &mockResumer{results: map[common.Hash]error{
		keys[1]: &attestation.ProofUnavailableError{Rounds: []uint64{49, 48}},
		keys[2]: &attestation.StageError{Stage: attestation.StageVerified, Err: attestation.ErrVerificationFailed},
	}, panicOn: keys[5]}

	var delivered atomic.Int32
	s := NewResolutionScheduler(NewResolutionSchedulerParams{
		Resumer: resumer,
		Ledger:  store,
		Handlers: map[string]Handler{
			"ok": func(context.Context, *ledger.Entry, *pipeline.Result) error {
				delivered.Add(1)
				return nil
			},
			"reject": func(context.Context, *ledger.Entry, *pipeline.Result) error {
				return consumers.Violate("test", "market closed", "")
			},
		},
	})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Delivered: 1, Pending: 1, Undelivered: 1, Rejected: 1, Failed: 2}, summary)
	require.Equal(t, int32(1), delivered.Load())
	require.Equal(t, int32(6), resumer.calls.Load())

	taken, err := store.Get(keys[0])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDelivered, taken.Status)

	rejected, err := store.Get(keys[3])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusRejected, rejected.Status)
	require.Contains(t, rejected.LastError, "market closed")

	unhandled, err := store.Get(keys[4])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusResolved, unhandled.Status)
	require.Contains(t, unhandled.LastError, "nobody")

	// delivered and rejected entries are not picked up again
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(10), resumer.calls.Load())
	require.Equal(t, int32(1), delivered.Load())
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	store, keys := newLedger(t, "flaky")
	resumer := &mockResumer{results: map[common.Hash]error{}}

	var attempts atomic.Int32
	s := NewResolutionScheduler(NewResolutionSchedulerParams{
		Resumer: resumer,
		Ledger:  store,
		Handlers: map[string]Handler{
			"flaky": func(context.Context, *ledger.Entry, *pipeline.Result) error {
				if attempts.Add(1) == 1 {
					return errors.New("market store unavailable")
				}
				return nil
			},
		},
	})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Undelivered: 1}, summary)
	entry, err := store.Get(keys[0])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusResolved, entry.Status)
	require.Contains(t, entry.LastError, "market store unavailable")

	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Delivered: 1}, summary)
	entry, err = store.Get(keys[0])
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDelivered, entry.Status)
	require.Empty(t, entry.LastError)
	require.Equal(t, int32(2), attempts.Load())
}

func TestRunOnceListsOpenStatuses(t *testing.T) {
	store, keys := newLedger(t, "ok", "ok", "ok", "ok")
	for i, status := range []ledger.Status{ledger.StatusSubmitting, ledger.StatusResolved, ledger.StatusFailed, ledger.StatusDelivered} {
		_, err := store.Update(keys[i], func(e *ledger.Entry) error {
			e.Status = status
			return nil
		})
		require.NoError(t, err)
	}
	resumer := &mockResumer{results: map[common.Hash]error{}}
	s := NewResolutionScheduler(NewResolutionSchedulerParams{
		Resumer:  resumer,
		Ledger:   store,
		Handlers: map[string]Handler{"ok": func(context.Context, *ledger.Entry, *pipeline.Result) error { return nil }},
	})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Delivered: 2}, summary)
	require.Equal(t, int32(2), resumer.calls.Load())
}

func TestRunOnceRespectsLimit(t *testing.T) {
	store, _ := newLedger(t, "ok", "ok", "ok")
	resumer := &mockResumer{results: map[common.Hash]error{}}
	s := NewResolutionScheduler(NewResolutionSchedulerParams{
		Resumer:   resumer,
		Ledger:    store,
		Handlers:  map[string]Handler{"ok": func(context.Context, *ledger.Entry, *pipeline.Result) error { return nil }},
		MaxPerRun: 2,
	})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Delivered)
	require.Equal(t, int32(2), resumer.calls.Load())
}

func TestRunOnceCancelled(t *testing.T) {
	store, _ := newLedger(t, "ok", "ok")
	resumer := &mockResumer{results: map[common.Hash]error{}}
	s := NewResolutionScheduler(NewResolutionSchedulerParams{Resumer: resumer, Ledger: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Cancelled)
	require.Zero(t, resumer.calls.Load())
}

func TestRunOnceMissingPrerequisites(t *testing.T) {
	s := NewResolutionScheduler(NewResolutionSchedulerParams{})
	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	store, _ := newLedger(t, "ok")
	resumer := &mockResumer{results: map[common.Hash]error{}}
	s := NewResolutionScheduler(NewResolutionSchedulerParams{Resumer: resumer, Ledger: store})

	// every second
	require.NoError(t, s.Start(context.Background(), "* * * * * *"))
	require.Eventually(t, func() bool { return resumer.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := NewResolutionScheduler(NewResolutionSchedulerParams{})
	err := s.Start(context.Background(), "every now and then")
	require.Error(t, err)
	require.NoError(t, s.Stop())
}

func TestSummaryTotal(t *testing.T) {
	require.Equal(t, 6, Summary{Delivered: 1, Pending: 1, Undelivered: 1, Rejected: 1, Failed: 1, Cancelled: 1}.Total())
}
