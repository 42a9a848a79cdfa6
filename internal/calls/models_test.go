package calls

import (
	"testing"
	"time"
)

func TestState_CanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateAwaitingMenuSelection, StateAwaitingMenuSelection, true},
		{StateAwaitingMenuSelection, StateRouting, true},
		{StateAwaitingMenuSelection, StateTerminated, true},
		{StateRouting, StateConnected, true},
		{StateRouting, StateAwaitingMenuSelection, false},
		{StateConnected, StateRouting, false},
		{StateTerminated, StateTerminated, true},
		{StateTerminated, StateAwaitingMenuSelection, false},
		{State("bogus"), StateRouting, false},
	}
	for _, c := range cases {
		if got := c.from.CanAdvanceTo(c.to); got != c.want {
			t.Fatalf("%s -> %s: got %v want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNewSession(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	s := NewSession("c1", "t1", "+15551234567", "+18005550100", now)
	if s.State != StateAwaitingMenuSelection {
		t.Fatalf("expected initial state, got %s", s.State)
	}
	if s.InvalidInputCount != 0 || s.SelectedRoute != "" {
		t.Fatalf("expected zero counters: %+v", s)
	}
	if s.CreatedAt.Location() != time.UTC || !s.CreatedAt.Equal(now) {
		t.Fatalf("expected UTC timestamp, got %v", s.CreatedAt)
	}
}

func TestEventKindString(t *testing.T) {
	if EventHangup.String() != "call.hangup" || EventKind(42).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
}
