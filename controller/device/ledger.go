package device

import (
	"encoding/binary"
	"math"

	"github.com/droppurity/aquatrack/controller/nvm"
)

const (
	// 32 slots of 16 bytes spreads write wear across 512 bytes of the 4KB
	// external EEPROM; at one write per 5 minutes of relay-on time that is
	// well inside the part's endurance for the life of the unit.
	LedgerSlots    = 32
	ledgerSlotSize = 16
)

// Ledger persists cumulative usage as a round-robin ring of fixed slots.
// Each slot is two little-endian float64s: total hours, total liters. The
// slot holding the numerically highest valid hour count is the most recent;
// a write that loses power mid-commit therefore costs at most one save
// interval of usage, never the whole ledger.
type Ledger struct {
	dev    nvm.Device
	cursor int
}

func NewLedger(dev nvm.Device) *Ledger {
	return &Ledger{dev: dev}
}

func slotValid(hours, liters float64) bool {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return false
	}
	if math.IsNaN(liters) || math.IsInf(liters, 0) || liters < 0 {
		return false
	}
	return true
}

func (l *Ledger) readSlot(i int) (hours, liters float64, err error) {
	buf := make([]byte, ledgerSlotSize)
	if err := l.dev.ReadAt(buf, int64(i*ledgerSlotSize)); err != nil {
		return 0, 0, err
	}
	hours = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
	liters = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	return hours, liters, nil
}

// Load scans every slot and returns the totals from the one with the highest
// valid hour count. The write cursor resumes just past that slot so wear
// keeps rotating across power cycles.
func (l *Ledger) Load() (hours, liters float64, err error) {
	best := -1
	for i := 0; i < LedgerSlots; i++ {
		h, lt, err := l.readSlot(i)
		if err != nil {
			return 0, 0, err
		}
		if !slotValid(h, lt) {
			continue
		}
		if best < 0 || h > hours {
			best = i
			hours, liters = h, lt
		}
	}
	if best < 0 {
		l.cursor = 0
		return 0, 0, nil
	}
	l.cursor = (best + 1) % LedgerSlots
	return hours, liters, nil
}

// Save writes the totals into the next ring slot.
func (l *Ledger) Save(hours, liters float64) error {
	buf := make([]byte, ledgerSlotSize)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(hours))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(liters))
	if err := l.dev.WriteAt(buf, int64(l.cursor*ledgerSlotSize)); err != nil {
		return err
	}
	l.cursor = (l.cursor + 1) % LedgerSlots
	return nil
}

// Reset zeroes every slot. Called when a new billing cycle starts.
func (l *Ledger) Reset() error {
	zero := make([]byte, ledgerSlotSize*LedgerSlots)
	if err := l.dev.WriteAt(zero, 0); err != nil {
		return err
	}
	l.cursor = 0
	return nil
}
