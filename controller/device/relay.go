package device

import (
	"time"

	"github.com/reef-pi/hal"
)

// MinRelayOnDuration keeps the pump from being rapidly cycled by transient
// trigger flicker: once energized, the relay stays on at least this long.
const MinRelayOnDuration = 2 * time.Second

type RelayEvent int

const (
	RelayNone RelayEvent = iota
	RelayTurnedOn
	RelayTurnedOff
)

// Relay owns the purification relay output. The decision whether operation
// is allowed is made by the caller every tick; Relay only enforces the
// transition rules and accounts session time.
type Relay struct {
	pin   hal.DigitalOutputPin
	minOn time.Duration

	on         bool
	turnOnMono time.Time
	turnOnWall time.Time
	wallValid  bool
}

func NewRelay(pin hal.DigitalOutputPin) *Relay {
	return &Relay{pin: pin, minOn: MinRelayOnDuration}
}

func (r *Relay) On() bool { return r.on }

// SessionHours returns the live elapsed hours of the current session, or 0
// when the relay is off or the clock was not running at turn-on.
func (r *Relay) SessionHours(wall time.Time) float64 {
	if !r.on || !r.wallValid {
		return 0
	}
	h := wall.Sub(r.turnOnWall).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Tick applies the interlock decision. On a qualifying off transition it
// returns the session hours to fold into the running total; credited is
// false when the clock was not running at turn-on, in which case the session
// is lost rather than estimated.
func (r *Relay) Tick(mono, wall time.Time, clockRunning, allowed bool) (ev RelayEvent, sessionHours float64, credited bool, err error) {
	if allowed && !r.on {
		if err := r.pin.Write(true); err != nil {
			return RelayNone, 0, false, err
		}
		r.on = true
		r.turnOnMono = mono
		r.turnOnWall = wall
		r.wallValid = clockRunning
		return RelayTurnedOn, 0, false, nil
	}
	if !allowed && r.on && mono.Sub(r.turnOnMono) >= r.minOn {
		if err := r.pin.Write(false); err != nil {
			return RelayNone, 0, false, err
		}
		r.on = false
		if r.wallValid && clockRunning {
			return RelayTurnedOff, wall.Sub(r.turnOnWall).Hours(), true, nil
		}
		return RelayTurnedOff, 0, false, nil
	}
	return RelayNone, 0, false, nil
}

// ForceOff de-energizes immediately, bypassing the minimum-on guard. Used
// only at shutdown.
func (r *Relay) ForceOff() error {
	r.on = false
	return r.pin.Write(false)
}
