package usecase

import (
	"context"
	"fmt"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/internal/services/scoring"
	applogger "Genesis/pkg/logger"
)

type signalScorer interface {
	ShouldExecute(ctx context.Context, s *models.Signal) (bool, scoring.Decision)
}

type signalMerger interface {
	MergeOrUpdate(ctx context.Context, s *models.Signal) (bool, error)
}

// IntakeResult reports what happened to a submitted signal.
type IntakeResult struct {
	Signal     *models.Signal    `json:"signal"`
	Merged     bool              `json:"merged"`
	MergedInto int64             `json:"merged_into,omitempty"`
	Decision   *scoring.Decision `json:"decision,omitempty"`
}

// SignalIntake persists candidate signals, folds near duplicates and scores the rest.
type SignalIntake struct {
	signals domrepo.SignalStore
	merger  signalMerger
	scorer  signalScorer
	metrics domrepo.Metrics
	log     *applogger.Logger
	timeout time.Duration
}

func NewSignalIntake(signals domrepo.SignalStore, merger signalMerger, scorer signalScorer,
	metrics domrepo.Metrics, log *applogger.Logger, storeTimeout time.Duration) *SignalIntake {
	if log == nil {
		log = applogger.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &SignalIntake{signals: signals, merger: merger, scorer: scorer, metrics: metrics, log: log, timeout: storeTimeout}
}

// Evaluate scores s without persisting anything.
func (u *SignalIntake) Evaluate(ctx context.Context, s *models.Signal) scoring.Decision {
	start := time.Now()
	_, d := u.scorer.ShouldExecute(ctx, s)
	u.metrics.RecordLatency("score", time.Since(start).Seconds())
	return d
}

// Submit stores s as PENDING, merges it into a live sibling when possible,
// and otherwise scores it to ACTIVE or CANCELLED.
func (u *SignalIntake) Submit(ctx context.Context, s *models.Signal) (*IntakeResult, error) {
	if !s.Action.Valid() {
		return nil, fmt.Errorf("invalid action %q", s.Action)
	}
	s.Status = models.StatusPending
	if err := u.withTimeout(ctx, func(c context.Context) error { return u.signals.Create(c, s) }); err != nil {
		u.metrics.RecordError("signal_create")
		return nil, fmt.Errorf("create signal: %w", err)
	}

	kept, err := u.merger.MergeOrUpdate(ctx, s)
	if err != nil {
		u.metrics.RecordError("signal_merge")
		if !kept {
			return nil, fmt.Errorf("merge signal %d: %w", s.ID, err)
		}
		u.log.Warn("merge check failed, scoring standalone",
			applogger.Int64("signal_id", s.ID), applogger.String("symbol", s.Symbol), applogger.Error(err))
	}
	if !kept {
		into, _ := s.Context[models.ContextMergedInto].(int64)
		u.metrics.RecordDecision(s.Symbol, "merged")
		return &IntakeResult{Signal: s, Merged: true, MergedInto: into}, nil
	}

	start := time.Now()
	execute, d := u.scorer.ShouldExecute(ctx, s)
	u.metrics.RecordLatency("score", time.Since(start).Seconds())
	u.metrics.RecordDecision(s.Symbol, d.Reason)

	s.SetContext(models.ContextScoring, d.AsContext())
	next := models.StatusCancelled
	if execute {
		next = models.StatusActive
	}
	if err := s.Transition(next); err != nil {
		return nil, err
	}
	if err := u.withTimeout(ctx, func(c context.Context) error { return u.signals.Update(c, s) }); err != nil {
		u.metrics.RecordError("signal_update")
		return nil, fmt.Errorf("update signal %d: %w", s.ID, err)
	}
	return &IntakeResult{Signal: s, Decision: &d}, nil
}

func (u *SignalIntake) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	return fn(c)
}
