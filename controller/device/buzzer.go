package device

import (
	"time"

	"github.com/reef-pi/hal"
)

const (
	// Plan expired: short fast beeps until the trigger is released.
	expiredBeepOn  = 50 * time.Millisecond
	expiredBeepOff = 150 * time.Millisecond

	// 1-3 days left: a three-beep reminder, re-armed after a cooldown.
	warnBeepOn    = 150 * time.Millisecond
	warnBeepOff   = 200 * time.Millisecond
	warnBeepCount = 3
	warnCooldown  = 5 * time.Minute

	warnDaysMax = 3

	// Beep count for a sequence that only stops when the trigger releases.
	IndefiniteBeeps = -1
)

type buzzerPhase int

const (
	buzzerIdle buzzerPhase = iota
	buzzerBeepingOn
	buzzerBeepingOff
)

// Buzzer is the plan-expiry alert sequencer. It runs independently of the
// interlock; only the trigger-released condition cancels an indefinite
// sequence early.
type Buzzer struct {
	pin hal.DigitalOutputPin

	phase      buzzerPhase
	remaining  int
	onDur      time.Duration
	offDur     time.Duration
	phaseStart time.Time

	lastWarnStart time.Time
	warned        bool
}

func NewBuzzer(pin hal.DigitalOutputPin) *Buzzer {
	return &Buzzer{pin: pin}
}

func (b *Buzzer) Active() bool { return b.phase != buzzerIdle }

// Start begins a beep sequence of count beeps (IndefiniteBeeps for no
// limit) with the given on/off durations.
func (b *Buzzer) Start(mono time.Time, count int, on, off time.Duration) error {
	b.remaining = count
	b.onDur = on
	b.offDur = off
	b.phase = buzzerBeepingOn
	b.phaseStart = mono
	return b.pin.Write(true)
}

func (b *Buzzer) stop() error {
	b.phase = buzzerIdle
	return b.pin.Write(false)
}

// Tick advances the sequencer and, when idle, evaluates the triggering
// policy. Expiry alerts need a running clock; without one the buzzer stays
// silent rather than beeping on stale plan math.
func (b *Buzzer) Tick(mono time.Time, triggerActive, clockRunning, expired bool, daysLeft int, daysKnown bool) error {
	if b.phase == buzzerIdle {
		if !triggerActive || !clockRunning {
			return nil
		}
		if expired {
			return b.Start(mono, IndefiniteBeeps, expiredBeepOn, expiredBeepOff)
		}
		if daysKnown && daysLeft >= 1 && daysLeft <= warnDaysMax {
			if !b.warned || mono.Sub(b.lastWarnStart) >= warnCooldown {
				b.warned = true
				b.lastWarnStart = mono
				return b.Start(mono, warnBeepCount, warnBeepOn, warnBeepOff)
			}
		}
		return nil
	}

	// Indefinite sequences auto-cancel the instant the trigger is released.
	if b.remaining == IndefiniteBeeps && !triggerActive {
		return b.stop()
	}

	switch b.phase {
	case buzzerBeepingOn:
		if mono.Sub(b.phaseStart) >= b.onDur {
			if b.remaining > 0 {
				b.remaining--
			}
			b.phase = buzzerBeepingOff
			b.phaseStart = mono
			return b.pin.Write(false)
		}
	case buzzerBeepingOff:
		if mono.Sub(b.phaseStart) >= b.offDur {
			if b.remaining == 0 {
				b.phase = buzzerIdle
				return nil
			}
			b.phase = buzzerBeepingOn
			b.phaseStart = mono
			return b.pin.Write(true)
		}
	}
	return nil
}
