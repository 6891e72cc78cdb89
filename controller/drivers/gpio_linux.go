//go:build linux

package drivers

import (
	"fmt"

	"github.com/reef-pi/hal"
	"github.com/warthog618/go-gpiocdev"
)

type gpioInPin struct {
	line *gpiocdev.Line
	name string
	num  int
}

var _ hal.DigitalInputPin = (*gpioInPin)(nil)

func (p *gpioInPin) Name() string { return p.name }
func (p *gpioInPin) Number() int  { return p.num }
func (p *gpioInPin) Close() error { return p.line.Close() }

func (p *gpioInPin) Read() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

type gpioOutPin struct {
	line *gpiocdev.Line
	name string
	num  int
	last bool
}

var _ hal.DigitalOutputPin = (*gpioOutPin)(nil)

func (p *gpioOutPin) Name() string    { return p.name }
func (p *gpioOutPin) Number() int     { return p.num }
func (p *gpioOutPin) Close() error    { return p.line.Close() }
func (p *gpioOutPin) LastState() bool { return p.last }

func (p *gpioOutPin) Write(state bool) error {
	v := 0
	if state {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		return err
	}
	p.last = state
	return nil
}

func gpioPins(cfg PinConfig) (PinSet, error) {
	chip := cfg.Chip
	if chip == "" {
		chip = "gpiochip0"
	}
	in := func(name string, offset int) (hal.DigitalInputPin, error) {
		line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput)
		if err != nil {
			return nil, fmt.Errorf("request %s line %d: %w", name, offset, err)
		}
		return &gpioInPin{line: line, name: name, num: offset}, nil
	}
	out := func(name string, offset int) (hal.DigitalOutputPin, error) {
		line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
		if err != nil {
			return nil, fmt.Errorf("request %s line %d: %w", name, offset, err)
		}
		return &gpioOutPin{line: line, name: name, num: offset}, nil
	}

	trigger, err := in("trigger", cfg.Trigger)
	if err != nil {
		return PinSet{}, err
	}
	flow, err := in("flow", cfg.Flow)
	if err != nil {
		return PinSet{}, err
	}
	relay, err := out("relay", cfg.Relay)
	if err != nil {
		return PinSet{}, err
	}
	buzzer, err := out("buzzer", cfg.Buzzer)
	if err != nil {
		return PinSet{}, err
	}
	return PinSet{Trigger: trigger, Flow: flow, Relay: relay, Buzzer: buzzer}, nil
}
