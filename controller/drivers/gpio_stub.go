//go:build !linux

package drivers

import "fmt"

func gpioPins(cfg PinConfig) (PinSet, error) {
	return PinSet{}, fmt.Errorf("gpio pin backend requires linux")
}
