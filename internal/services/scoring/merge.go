package scoring

import (
	"context"
	"fmt"

	"Genesis/internal/domain/models"
	"Genesis/internal/domain/repository"
	"Genesis/pkg/logger"
)

// MergeConfidence combines two confidences as a probabilistic union.
func MergeConfidence(a, b float64) float64 {
	return 1 - (1-a)*(1-b)
}

// Merger folds near-duplicate signals into an existing live sibling.
type Merger struct {
	signals   repository.SignalStore
	tolerance Tolerance
	log       *logger.Logger
}

// NewMerger creates a merger using tol to compare entries.
func NewMerger(signals repository.SignalStore, tol Tolerance, log *logger.Logger) *Merger {
	if log == nil {
		log = logger.NewNop()
	}
	return &Merger{signals: signals, tolerance: tol, log: log}
}

// MergeOrUpdate merges s into a live sibling with the same symbol and action whose entry
// is within tolerance. It returns false when s was merged and cancelled, true when s stands alone.
func (m *Merger) MergeOrUpdate(ctx context.Context, s *models.Signal) (bool, error) {
	if s.Entry == nil {
		return true, nil
	}
	siblings, err := m.signals.FindLive(ctx, s.Symbol, s.Action, s.ID)
	if err != nil {
		return true, fmt.Errorf("find live siblings: %w", err)
	}
	var target *models.Signal
	for _, sib := range siblings {
		if sib.ID == s.ID || sib.Entry == nil || !sib.Status.Live() {
			continue
		}
		if m.tolerance.IsPriceTooClose(s.Symbol, *sib.Entry, *s.Entry) {
			target = sib
			break
		}
	}
	if target == nil {
		return true, nil
	}

	// The cancel is written first so a retry after a failed sibling write cannot fold s in twice.
	cancelled := s.Clone()
	if err := cancelled.Transition(models.StatusCancelled); err != nil {
		return true, fmt.Errorf("cancel merged signal: %w", err)
	}
	cancelled.SetContext(models.ContextMergedInto, target.ID)
	if err := m.signals.Update(ctx, cancelled); err != nil {
		return true, fmt.Errorf("update merged signal %d: %w", s.ID, err)
	}
	*s = *cancelled

	before := target.Confidence
	next := target.Clone()
	next.Confidence = MergeConfidence(target.Confidence, s.Confidence)
	merged := append(target.MergedFrom(), s.ID)
	next.SetContext(models.ContextMergedFrom, merged)
	next.SetContext(models.ContextMergeCount, len(merged))
	if err := m.signals.Update(ctx, next); err != nil {
		return false, fmt.Errorf("update sibling %d: %w", target.ID, err)
	}
	*target = *next

	m.log.Info("signal merged into sibling",
		logger.Int64("signal_id", s.ID),
		logger.Int64("sibling_id", target.ID),
		logger.String("symbol", s.Symbol),
		logger.Float64("confidence_before", before),
		logger.Float64("confidence_after", next.Confidence),
	)
	return false, nil
}
