// Package simulator drives the sim flow pin in dev mode so the full pulse
// counter, ledger and dashboard pipeline can be exercised without hardware.
// The pulse rate comes from a configurable expression of elapsed minutes.
package simulator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/droppurity/aquatrack/controller/drivers"
)

// DefaultRateExpression yields a gentle ramp that settles around two pulses
// per second after a few minutes.
const DefaultRateExpression = "min(2.0, 0.5 + t/4)"

// Simulator emits debounce-shaped pulses on a sim flow pin. Each pulse holds
// low then high long enough to satisfy the counter's hold windows.
type Simulator struct {
	flow    *drivers.SimPin
	trigger *drivers.SimPin
	expr    *govaluate.EvaluableExpression
	hold    time.Duration
}

// New compiles the rate expression. The expression sees one variable, t, the
// minutes elapsed since Run started, and must evaluate to pulses per second.
func New(flow, trigger *drivers.SimPin, expression string, hold time.Duration) (*Simulator, error) {
	if expression == "" {
		expression = DefaultRateExpression
	}
	fns := map[string]govaluate.ExpressionFunction{
		"min": func(args ...interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("min wants 2 arguments")
			}
			a, aok := args[0].(float64)
			b, bok := args[1].(float64)
			if !aok || !bok {
				return nil, fmt.Errorf("min wants numbers")
			}
			if a < b {
				return a, nil
			}
			return b, nil
		},
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, fns)
	if err != nil {
		return nil, fmt.Errorf("parse rate expression: %w", err)
	}
	return &Simulator{flow: flow, trigger: trigger, expr: expr, hold: hold}, nil
}

// Rate evaluates pulses per second at t minutes. Negative or non-numeric
// results are treated as zero flow.
func (s *Simulator) Rate(t float64) float64 {
	out, err := s.expr.Evaluate(map[string]interface{}{"t": t})
	if err != nil {
		log.Println("simulator: evaluate rate:", err)
		return 0
	}
	rate, ok := out.(float64)
	if !ok || rate < 0 {
		return 0
	}
	return rate
}

// Run holds the trigger active and pulses the flow pin until the context is
// cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.trigger.Set(true)
	defer s.trigger.Set(false)
	start := time.Now()
	log.Println("simulator: flow generator running")
	for {
		rate := s.Rate(time.Since(start).Minutes())
		if rate <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// One pulse is low for a hold window then high for the rest of
		// the period, mirroring a paddle-wheel sensor edge.
		period := time.Duration(float64(time.Second) / rate)
		if period < 2*s.hold {
			period = 2 * s.hold
		}
		s.flow.Set(false)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.hold + 50*time.Millisecond):
		}
		s.flow.Set(true)
		select {
		case <-ctx.Done():
			return
		case <-time.After(period - s.hold):
		}
	}
}
