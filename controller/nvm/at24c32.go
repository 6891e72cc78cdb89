package nvm

import (
	"sync"
	"time"

	"github.com/reef-pi/rpi/i2c"
)

const (
	at24Size      = 4096
	at24PageSize  = 32
	at24WriteWait = 5 * time.Millisecond
)

// AT24C32 drives a 4KB i2c EEPROM (two-byte word addressing, 32 byte pages).
type AT24C32 struct {
	mu   sync.Mutex
	bus  i2c.Bus
	addr byte
}

func NewAT24C32(bus i2c.Bus, addr byte) *AT24C32 {
	return &AT24C32{bus: bus, addr: addr}
}

func (e *AT24C32) Size() int64 { return at24Size }

func (e *AT24C32) ReadAt(p []byte, off int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkBounds(at24Size, off, len(p)); err != nil {
		return err
	}
	if err := e.bus.WriteBytes(e.addr, []byte{byte(off >> 8), byte(off)}); err != nil {
		return err
	}
	data, err := e.bus.ReadBytes(e.addr, len(p))
	if err != nil {
		return err
	}
	copy(p, data)
	return nil
}

// WriteAt splits the write on page boundaries; the chip ignores bytes that
// would wrap within a page.
func (e *AT24C32) WriteAt(p []byte, off int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := checkBounds(at24Size, off, len(p)); err != nil {
		return err
	}
	for len(p) > 0 {
		room := at24PageSize - int(off%at24PageSize)
		n := len(p)
		if n > room {
			n = room
		}
		buf := make([]byte, 2+n)
		buf[0] = byte(off >> 8)
		buf[1] = byte(off)
		copy(buf[2:], p[:n])
		if err := e.bus.WriteBytes(e.addr, buf); err != nil {
			return err
		}
		// Internal write cycle; the chip NAKs until it completes.
		time.Sleep(at24WriteWait)
		p = p[n:]
		off += int64(n)
	}
	return nil
}
