package device

import "time"

const (
	// A pulse is accepted only after the sensor line holds each phase for
	// this long; anything shorter is treated as bounce.
	FlowHoldDuration = 3 * time.Second

	// One accepted pulse is 200 ml.
	LitersPerPulse = 0.2
)

type flowPhase int

const (
	flowIdle flowPhase = iota
	flowTimingLow
	flowWaitingForHigh
	flowTimingHigh
)

// FlowCounter converts the raw flow-sensor level into discrete 0.2 L
// increments. The double hold (a full stable low phase followed by a full
// stable high phase) trades responsiveness for count accuracy.
type FlowCounter struct {
	hold       time.Duration
	phase      flowPhase
	phaseStart time.Time
}

func NewFlowCounter() *FlowCounter {
	return &FlowCounter{hold: FlowHoldDuration}
}

// Tick advances the state machine with the sensor level sampled this tick
// (true = high). It returns the liters to credit, which is either 0 or
// LitersPerPulse.
func (f *FlowCounter) Tick(now time.Time, high bool) float64 {
	switch f.phase {
	case flowIdle:
		if !high {
			f.phase = flowTimingLow
			f.phaseStart = now
		}
	case flowTimingLow:
		if high {
			f.phase = flowIdle
			return 0
		}
		if now.Sub(f.phaseStart) >= f.hold {
			f.phase = flowWaitingForHigh
		}
	case flowWaitingForHigh:
		if high {
			f.phase = flowTimingHigh
			f.phaseStart = now
		}
	case flowTimingHigh:
		if !high {
			f.phase = flowIdle
			return 0
		}
		if now.Sub(f.phaseStart) >= f.hold {
			f.phase = flowIdle
			return LitersPerPulse
		}
	}
	return 0
}

// Reset returns the counter to idle, discarding any partial phase.
func (f *FlowCounter) Reset() {
	f.phase = flowIdle
}
