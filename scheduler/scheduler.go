// Package scheduler periodically resumes recorded attestation requests and
// hands their decoded payloads to consumers until a consumer takes them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/pipeline"
	"github.com/trufnetwork/fdc-relay/consumers"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
	"github.com/trufnetwork/fdc-relay/internal/metrics"
)

// Resumer continues a recorded request. *pipeline.Pipeline implements it.
type Resumer interface {
	Resume(ctx context.Context, key common.Hash) (*pipeline.Result, error)
}

// Ledger is the part of *ledger.Store the scheduler needs.
type Ledger interface {
	List(status ledger.Status) ([]*ledger.Entry, error)
	Update(key common.Hash, fn func(*ledger.Entry) error) (*ledger.Entry, error)
}

// Handler delivers a decoded payload to the consumer named in the entry. An
// error matching consumers.ErrBusinessRule rejects the payload for good; any
// other error leaves it to be delivered again on a later run.
type Handler func(ctx context.Context, entry *ledger.Entry, result *pipeline.Result) error

// openStatuses are the entries a run works on, oldest stage first.
var openStatuses = []ledger.Status{ledger.StatusSubmitting, ledger.StatusPending, ledger.StatusResolved}

// Summary counts what happened to the entries of one run.
type Summary struct {
	Delivered   int
	Pending     int
	Undelivered int
	Rejected    int
	Failed      int
	Cancelled   int
}

func (s Summary) Total() int {
	return s.Delivered + s.Pending + s.Undelivered + s.Rejected + s.Failed + s.Cancelled
}

type ResolutionScheduler struct {
	resumer Resumer
	ledger  Ledger
	metrics metrics.MetricsRecorder
	logger  *zap.Logger
	cron    *gocron.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex

	handlers map[string]Handler

	maxPerRun   int
	concurrency int
	flowTimeout time.Duration
}

type NewResolutionSchedulerParams struct {
	Resumer     Resumer
	Ledger      Ledger
	Handlers    map[string]Handler
	Metrics     metrics.MetricsRecorder
	Logger      *zap.Logger
	MaxPerRun   int
	Concurrency int
	FlowTimeout time.Duration
}

func NewResolutionScheduler(params NewResolutionSchedulerParams) *ResolutionScheduler {
	maxPerRun := params.MaxPerRun
	if maxPerRun <= 0 {
		maxPerRun = MaxEntriesPerRun
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := params.FlowTimeout
	if timeout <= 0 {
		timeout = DefaultFlowTimeout
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := params.Metrics
	if recorder == nil {
		recorder = metrics.NewNoOpMetrics()
	}

	handlers := make(map[string]Handler, len(params.Handlers))
	for name, h := range params.Handlers {
		handlers[name] = h
	}

	return &ResolutionScheduler{
		resumer:     params.Resumer,
		ledger:      params.Ledger,
		metrics:     recorder,
		logger:      logger.Named("resolution_scheduler"),
		cron:        gocron.NewScheduler(time.UTC),
		handlers:    handlers,
		maxPerRun:   maxPerRun,
		concurrency: concurrency,
		flowTimeout: timeout,
	}
}

// SetHandler registers or replaces the handler for a consumer.
func (s *ResolutionScheduler) SetHandler(consumer string, h Handler) {
	s.mu.Lock()
	s.handlers[consumer] = h
	s.mu.Unlock()
}

// Start registers a single cron job with the provided cron expression
func (s *ResolutionScheduler) Start(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel any previous context to avoid leaks on restarts
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron.Clear()

	jobFunc := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in resolution job",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
			}
		}()

		s.mu.Lock()
		jobCtx := s.ctx
		s.mu.Unlock()

		summary, err := s.run(jobCtx)
		if err != nil {
			s.logger.Error("resolution job failed", zap.Error(err))
			return
		}
		if summary.Total() == 0 {
			s.logger.Debug("no open requests")
			return
		}
		s.logger.Info("resolution job completed",
			zap.Int("delivered", summary.Delivered),
			zap.Int("pending", summary.Pending),
			zap.Int("undelivered", summary.Undelivered),
			zap.Int("rejected", summary.Rejected),
			zap.Int("failed", summary.Failed),
			zap.Int("cancelled", summary.Cancelled))
	}

	if j, err := s.cron.Cron(cronExpr).Do(jobFunc); err != nil {
		// Fallback for schedules that include seconds
		j2, err2 := s.cron.CronWithSeconds(cronExpr).Do(jobFunc)
		if err2 != nil {
			return fmt.Errorf("register resolution job: %w", err)
		}
		j2.SingletonMode()
	} else {
		// Prevent overlapping runs
		j.SingletonMode()
	}

	s.cron.StartAsync()
	s.logger.Info("resolution scheduler started", zap.String("schedule", cronExpr))
	return nil
}

func (s *ResolutionScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("resolution scheduler stopped")
	return nil
}

// RunOnce executes the resolution job payload once (for tests and manual triggering)
func (s *ResolutionScheduler) RunOnce(ctx context.Context) (Summary, error) {
	return s.run(ctx)
}

func (s *ResolutionScheduler) run(ctx context.Context) (Summary, error) {
	var summary Summary
	if s.resumer == nil || s.ledger == nil {
		return summary, fmt.Errorf("missing prerequisites to run resolution")
	}

	var open []*ledger.Entry
	for _, status := range openStatuses {
		entries, err := s.ledger.List(status)
		if err != nil {
			return summary, fmt.Errorf("list %s requests: %w", status, err)
		}
		open = append(open, entries...)
	}
	s.metrics.RecordPendingRequests(ctx, len(open))
	if len(open) > s.maxPerRun {
		s.logger.Info("open requests exceed per-run limit",
			zap.Int("open", len(open)),
			zap.Int("limit", s.maxPerRun))
		open = open[:s.maxPerRun]
	}

	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g := errgroup.Group{}
	g.SetLimit(s.concurrency)
	for _, entry := range open {
		entry := entry
		g.Go(func() error {
			// Check for cancellation
			if ctx.Err() != nil {
				count(&summary.Cancelled)
				return nil
			}
			switch s.resolve(ctx, entry) {
			case outcomeDelivered:
				count(&summary.Delivered)
			case outcomePending:
				count(&summary.Pending)
			case outcomeUndelivered:
				count(&summary.Undelivered)
			case outcomeRejected:
				count(&summary.Rejected)
			case outcomeFailed:
				count(&summary.Failed)
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomePending
	outcomeUndelivered
	outcomeRejected
	outcomeFailed
)

func (s *ResolutionScheduler) resolve(ctx context.Context, entry *ledger.Entry) (out outcome) {
	logger := s.logger.With(
		zap.String("request_key", entry.Key.Hex()),
		zap.String("status", string(entry.Status)),
		zap.String("consumer", entry.Consumer))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while resolving request",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			out = outcomeFailed
		}
	}()

	flowCtx, cancel := context.WithTimeout(ctx, s.flowTimeout)
	defer cancel()

	res, err := s.resumer.Resume(flowCtx, entry.Key)
	switch {
	case err == nil:
	case attestation.IsRetryable(err):
		logger.Debug("request not ready", zap.Error(err))
		return outcomePending
	default:
		logger.Warn("request failed", zap.Error(err))
		return outcomeFailed
	}

	s.mu.Lock()
	handler, ok := s.handlers[entry.Consumer]
	s.mu.Unlock()
	if !ok {
		logger.Warn("no handler registered for consumer")
		s.mark(entry.Key, ledger.StatusResolved, fmt.Sprintf("no handler for consumer %q", entry.Consumer))
		return outcomeUndelivered
	}
	err = handler(flowCtx, entry, res)
	switch {
	case errors.Is(err, consumers.ErrBusinessRule):
		logger.Warn("consumer rejected payload", zap.Uint64("round", res.RoundID), zap.Error(err))
		s.mark(entry.Key, ledger.StatusRejected, "consumer: "+err.Error())
		return outcomeRejected
	case err != nil:
		logger.Warn("payload delivery failed", zap.Uint64("round", res.RoundID), zap.Error(err))
		s.mark(entry.Key, ledger.StatusResolved, "consumer: "+err.Error())
		return outcomeUndelivered
	}
	s.mark(entry.Key, ledger.StatusDelivered, "")
	logger.Info("payload delivered", zap.Uint64("round", res.RoundID))
	return outcomeDelivered
}

// mark records the delivery result of a resolved entry.
func (s *ResolutionScheduler) mark(key common.Hash, status ledger.Status, msg string) {
	_, err := s.ledger.Update(key, func(e *ledger.Entry) error {
		e.Status = status
		e.LastError = msg
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to update ledger", zap.String("request_key", key.Hex()), zap.Error(err))
	}
}
