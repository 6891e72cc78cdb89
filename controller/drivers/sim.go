// Package drivers provides the pin implementations behind the control
// core's hal interfaces: a gpiocdev-backed driver for real hardware and a
// sim driver for dev mode and tests.
package drivers

import (
	"fmt"
	"sync"

	"github.com/reef-pi/hal"
)

// SimPin is an in-memory pin. Inputs are driven by tests, the dev-mode
// simulator, or the dashboard; outputs just record their last state.
type SimPin struct {
	mu    sync.Mutex
	name  string
	num   int
	state bool
}

var (
	_ hal.DigitalInputPin  = (*SimPin)(nil)
	_ hal.DigitalOutputPin = (*SimPin)(nil)
)

func NewSimPin(name string, num int) *SimPin {
	return &SimPin{name: name, num: num}
}

func (p *SimPin) Name() string { return p.name }
func (p *SimPin) Number() int  { return p.num }
func (p *SimPin) Close() error { return nil }

func (p *SimPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *SimPin) Write(state bool) error {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

func (p *SimPin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Set drives the simulated input level.
func (p *SimPin) Set(state bool) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// PinSet is the resolved set of device pins.
type PinSet struct {
	Trigger hal.DigitalInputPin
	Flow    hal.DigitalInputPin
	Relay   hal.DigitalOutputPin
	Buzzer  hal.DigitalOutputPin
}

// PinConfig names the GPIO lines on the board.
type PinConfig struct {
	Chip    string `yaml:"chip"`
	Trigger int    `yaml:"trigger"`
	Flow    int    `yaml:"flow"`
	Relay   int    `yaml:"relay"`
	Buzzer  int    `yaml:"buzzer"`
}

// SimPins builds a full simulated pin set and returns the inputs so callers
// can drive them.
func SimPins() (PinSet, *SimPin, *SimPin) {
	trigger := NewSimPin("trigger", 0)
	flow := NewSimPin("flow", 1)
	return PinSet{
		Trigger: trigger,
		Flow:    flow,
		Relay:   NewSimPin("relay", 2),
		Buzzer:  NewSimPin("buzzer", 3),
	}, trigger, flow
}

// NewPins resolves the configured backend ("sim" or "gpio").
func NewPins(backend string, cfg PinConfig) (PinSet, error) {
	switch backend {
	case "", "sim":
		pins, _, _ := SimPins()
		return pins, nil
	case "gpio":
		return gpioPins(cfg)
	default:
		return PinSet{}, fmt.Errorf("unknown pin backend %q", backend)
	}
}
