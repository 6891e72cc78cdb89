package device

import (
	"testing"
	"time"
)

func TestFlowCounterAcceptsStablePulse(t *testing.T) {
	f := NewFlowCounter()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if got := f.Tick(base, false); got != 0 {
		t.Fatalf("credit at low start: got %v", got)
	}
	if got := f.Tick(base.Add(FlowHoldDuration), false); got != 0 {
		t.Fatalf("credit before high phase: got %v", got)
	}
	if got := f.Tick(base.Add(FlowHoldDuration+10*time.Millisecond), true); got != 0 {
		t.Fatalf("credit at high start: got %v", got)
	}
	got := f.Tick(base.Add(2*FlowHoldDuration+10*time.Millisecond), true)
	if got != LitersPerPulse {
		t.Fatalf("completed pulse credited %v, want %v", got, LitersPerPulse)
	}
}

func TestFlowCounterRejectsShortLow(t *testing.T) {
	f := NewFlowCounter()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f.Tick(base, false)
	// Line bounces back high after one second; the pulse must be discarded.
	if got := f.Tick(base.Add(time.Second), true); got != 0 {
		t.Fatalf("bounce credited %v", got)
	}
	// A subsequent clean pulse still counts exactly once.
	f.Tick(base.Add(2*time.Second), false)
	f.Tick(base.Add(2*time.Second+FlowHoldDuration), false)
	f.Tick(base.Add(3*time.Second+FlowHoldDuration), true)
	if got := f.Tick(base.Add(3*time.Second+2*FlowHoldDuration), true); got != LitersPerPulse {
		t.Fatalf("clean pulse after bounce credited %v", got)
	}
}

func TestFlowCounterRejectsShortHigh(t *testing.T) {
	f := NewFlowCounter()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f.Tick(base, false)
	f.Tick(base.Add(FlowHoldDuration), false)
	f.Tick(base.Add(FlowHoldDuration+time.Second), true)
	// Drops low again before the high hold elapses.
	if got := f.Tick(base.Add(FlowHoldDuration+2*time.Second), false); got != 0 {
		t.Fatalf("short high credited %v", got)
	}
}

func TestFlowCounterResetDiscardsPartialPhase(t *testing.T) {
	f := NewFlowCounter()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f.Tick(base, false)
	f.Tick(base.Add(FlowHoldDuration), false)
	f.Reset()
	// After reset the counter must demand a full low phase again.
	f.Tick(base.Add(FlowHoldDuration+time.Second), true)
	if got := f.Tick(base.Add(2*FlowHoldDuration+2*time.Second), true); got != 0 {
		t.Fatalf("credit without full low phase after reset: %v", got)
	}
}
