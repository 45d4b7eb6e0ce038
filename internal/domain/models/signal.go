package models

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrInvalidTransition is returned when a signal status change is not allowed.
var ErrInvalidTransition = errors.New("invalid signal status transition")

// Action is the trade intent carried by a signal.
type Action string

const (
	ActionBuyNow           Action = "BUY_NOW"
	ActionSellNow          Action = "SELL_NOW"
	ActionAnticipatedLong  Action = "ANTICIPATED_LONG"
	ActionAnticipatedShort Action = "ANTICIPATED_SHORT"
)

// IsLong reports whether the action opens or anticipates a long position.
func (a Action) IsLong() bool {
	return a == ActionBuyNow || a == ActionAnticipatedLong
}

// Side maps the action to the trade side it would produce.
func (a Action) Side() TradeSide {
	if a.IsLong() {
		return SideBuy
	}
	return SideSell
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionBuyNow, ActionSellNow, ActionAnticipatedLong, ActionAnticipatedShort:
		return true
	}
	return false
}

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusPending   SignalStatus = "PENDING"
	StatusActive    SignalStatus = "ACTIVE"
	StatusTriggered SignalStatus = "TRIGGERED"
	StatusExpired   SignalStatus = "EXPIRED"
	StatusCancelled SignalStatus = "CANCELLED"
	StatusError     SignalStatus = "ERROR"
)

// LiveStatuses are the statuses a merge sibling may have.
var LiveStatuses = []SignalStatus{StatusPending, StatusActive, StatusTriggered}

// Terminal reports whether no further transition is allowed from s.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusTriggered, StatusExpired, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Live reports whether s is one of LiveStatuses.
func (s SignalStatus) Live() bool {
	for _, l := range LiveStatuses {
		if s == l {
			return true
		}
	}
	return false
}

// Context keys written by the scoring core.
const (
	ContextScoring    = "scoring"
	ContextMergedFrom = "merged_from"
	ContextMergedInto = "merged_into"
	ContextMergeCount = "merge_count"
)

// Signal is a candidate trade idea produced upstream.
type Signal struct {
	ID         int64          `json:"id"`
	Symbol     string         `json:"symbol"`
	Action     Action         `json:"action"`
	Entry      *float64       `json:"entry,omitempty"`
	StopLoss   *float64       `json:"stop_loss,omitempty"`
	TakeProfit *float64       `json:"take_profit,omitempty"`
	Confidence float64        `json:"confidence"`
	Status     SignalStatus   `json:"status"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Transition moves the signal to status to.
// PENDING and ACTIVE may move between each other or to any terminal status.
// Terminal statuses are final.
func (s *Signal) Transition(to SignalStatus) error {
	if s.Status == to {
		return nil
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	switch to {
	case StatusPending, StatusActive, StatusTriggered, StatusExpired, StatusCancelled, StatusError:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a copy of s with its own context map.
func (s *Signal) Clone() *Signal {
	c := *s
	c.Context = maps.Clone(s.Context)
	return &c
}

// SetContext stores v under key, allocating the map on first use.
func (s *Signal) SetContext(key string, v any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = v
}

// MergedFrom returns the ids already folded into this signal.
// Values decoded from JSON arrive as []any of float64.
func (s *Signal) MergedFrom() []int64 {
	raw, ok := s.Context[ContextMergedFrom]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []int64:
		return append([]int64(nil), v...)
	case []any:
		out := make([]int64, 0, len(v))
		for _, x := range v {
			switch n := x.(type) {
			case float64:
				out = append(out, int64(n))
			case int64:
				out = append(out, n)
			case int:
				out = append(out, int64(n))
			}
		}
		return out
	}
	return nil
}
