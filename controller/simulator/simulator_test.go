package simulator

import (
	"testing"
	"time"

	"github.com/droppurity/aquatrack/controller/drivers"
)

func newTestSim(t *testing.T, expr string) *Simulator {
	t.Helper()
	flow := drivers.NewSimPin("flow", 0)
	trigger := drivers.NewSimPin("trigger", 1)
	s, err := New(flow, trigger, expr, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRateDefaultExpression(t *testing.T) {
	s := newTestSim(t, "")

	if r := s.Rate(0); r != 0.5 {
		t.Fatalf("rate at t=0 is %v, want 0.5", r)
	}
	// The ramp caps at two pulses per second.
	if r := s.Rate(60); r != 2.0 {
		t.Fatalf("rate at t=60 is %v, want 2.0", r)
	}
}

func TestRateCustomExpression(t *testing.T) {
	s := newTestSim(t, "t * 0.1")
	if r := s.Rate(5); r != 0.5 {
		t.Fatalf("rate = %v, want 0.5", r)
	}
}

func TestRateNegativeClampsToZero(t *testing.T) {
	s := newTestSim(t, "0 - 1")
	if r := s.Rate(10); r != 0 {
		t.Fatalf("negative rate not clamped: %v", r)
	}
}

func TestNewRejectsBadExpression(t *testing.T) {
	flow := drivers.NewSimPin("flow", 0)
	trigger := drivers.NewSimPin("trigger", 1)
	if _, err := New(flow, trigger, "min(", time.Millisecond); err == nil {
		t.Fatal("unparsable expression accepted")
	}
}
