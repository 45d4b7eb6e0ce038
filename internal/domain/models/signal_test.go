package models

import (
	"errors"
	"testing"
)

func TestSignalTransition(t *testing.T) {
	tests := []struct {
		from    SignalStatus
		to      SignalStatus
		wantErr bool
	}{
		{StatusPending, StatusActive, false},
		{StatusActive, StatusPending, false},
		{StatusPending, StatusCancelled, false},
		{StatusActive, StatusTriggered, false},
		{StatusActive, StatusExpired, false},
		{StatusActive, StatusActive, false},
		{StatusCancelled, StatusActive, true},
		{StatusTriggered, StatusPending, true},
		{StatusExpired, StatusActive, true},
		{StatusError, StatusCancelled, true},
		{StatusPending, SignalStatus("BOGUS"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := &Signal{Status: tt.from}
			err := s.Transition(tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if s.Status != tt.from {
					t.Fatalf("status changed on rejected transition: %s", s.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Status != tt.to {
				t.Fatalf("status = %s, want %s", s.Status, tt.to)
			}
		})
	}
}

func TestActionSide(t *testing.T) {
	cases := map[Action]TradeSide{
		ActionBuyNow:           SideBuy,
		ActionAnticipatedLong:  SideBuy,
		ActionSellNow:          SideSell,
		ActionAnticipatedShort: SideSell,
	}
	for a, want := range cases {
		if got := a.Side(); got != want {
			t.Errorf("%s.Side() = %s, want %s", a, got, want)
		}
	}
}

func TestMergedFromDecodesJSONNumbers(t *testing.T) {
	s := &Signal{Context: map[string]any{ContextMergedFrom: []any{float64(3), float64(7)}}}
	got := s.MergedFrom()
	if len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Fatalf("unexpected merged_from %v", got)
	}
}
