// Package nvm models the byte-addressable non-volatile memories the device
// persists into: the external i2c EEPROM holding the usage ledger and the
// internal store holding the device configuration record. Offsets are plain
// byte addresses so slot layout stays a pure function of index.
package nvm

import (
	"fmt"
	"os"
	"sync"
)

type Device interface {
	ReadAt(p []byte, off int64) error
	WriteAt(p []byte, off int64) error
	Size() int64
}

func checkBounds(size, off int64, n int) error {
	if off < 0 || off+int64(n) > size {
		return fmt.Errorf("nvm: access [%d,%d) out of bounds (size %d)", off, off+int64(n), size)
	}
	return nil
}

// Mem is an in-memory Device for tests.
type Mem struct {
	mu   sync.Mutex
	data []byte
}

func NewMem(size int) *Mem {
	return &Mem{data: make([]byte, size)}
}

func (m *Mem) Size() int64 { return int64(len(m.data)) }

func (m *Mem) ReadAt(p []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(int64(len(m.data)), off, len(p)); err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

func (m *Mem) WriteAt(p []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkBounds(int64(len(m.data)), off, len(p)); err != nil {
		return err
	}
	copy(m.data[off:], p)
	return nil
}

// Section is a fixed window into another Device, so one physical EEPROM can
// hold several independent records.
type Section struct {
	dev  Device
	base int64
	size int64
}

func NewSection(dev Device, base, size int64) (*Section, error) {
	if err := checkBounds(dev.Size(), base, int(size)); err != nil {
		return nil, err
	}
	return &Section{dev: dev, base: base, size: size}, nil
}

func (s *Section) Size() int64 { return s.size }

func (s *Section) ReadAt(p []byte, off int64) error {
	if err := checkBounds(s.size, off, len(p)); err != nil {
		return err
	}
	return s.dev.ReadAt(p, s.base+off)
}

func (s *Section) WriteAt(p []byte, off int64) error {
	if err := checkBounds(s.size, off, len(p)); err != nil {
		return err
	}
	return s.dev.WriteAt(p, s.base+off)
}

// File is a fixed-size file-backed Device, the stand-in for the internal
// EEPROM on boards that keep local state on flash.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewFile(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &File{f: f, size: size}, nil
}

func (d *File) Size() int64 { return d.size }

func (d *File) ReadAt(p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkBounds(d.size, off, len(p)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(p, off)
	return err
}

func (d *File) WriteAt(p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkBounds(d.size, off, len(p)); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, off); err != nil {
		return err
	}
	return d.f.Sync()
}

func (d *File) Close() error {
	return d.f.Close()
}
