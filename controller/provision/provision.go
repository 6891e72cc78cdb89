// Package provision owns the first-boot flow: an unprovisioned device comes
// up as a local access point and accepts Wi-Fi credentials plus a customer
// id over its config endpoint, then restarts into normal operation.
package provision

import (
	"fmt"
	"log"

	"github.com/droppurity/aquatrack/controller/device"
)

type Mode int

const (
	ModeConfig Mode = iota // access point up, waiting for /config
	ModeNormal             // Wi-Fi client, control loop running
)

// DefaultAPName matches what the setup page tells the customer to join.
const DefaultAPName = "AquaTrack-Setup"

type Machine struct {
	wifi     WifiManager
	cfgStore *device.ConfigStore
	apName   string
	restart  func()
	mode     Mode
}

func NewMachine(wifi WifiManager, cfgStore *device.ConfigStore, apName string, restart func()) *Machine {
	if apName == "" {
		apName = DefaultAPName
	}
	return &Machine{wifi: wifi, cfgStore: cfgStore, apName: apName, restart: restart}
}

func (m *Machine) Mode() Mode { return m.mode }

// Boot decides the startup mode from the persisted config. A provisioned
// device joins its stored network; a join failure is logged but still boots
// normal mode, since the loop operates offline and sync just stays skipped.
func (m *Machine) Boot(cfg *device.Config) (Mode, error) {
	if !cfg.InitialConfigDone {
		if err := m.wifi.StartAP(m.apName); err != nil {
			return ModeConfig, fmt.Errorf("start access point: %w", err)
		}
		log.Println("provision: unconfigured device, access point", m.apName, "up")
		m.mode = ModeConfig
		return ModeConfig, nil
	}
	if cfg.WifiSSID != "" {
		if err := m.wifi.Connect(cfg.WifiSSID, cfg.WifiPassword); err != nil {
			log.Println("provision: join failed, continuing offline:", err)
		}
	}
	m.mode = ModeNormal
	return ModeNormal, nil
}

// Provision validates and persists first-time configuration, tears down the
// access point and restarts the device into normal mode. Nothing is
// persisted when validation fails.
func (m *Machine) Provision(ssid, password, customerID string) error {
	if m.mode != ModeConfig {
		return fmt.Errorf("device already provisioned")
	}
	if ssid == "" {
		return fmt.Errorf("ssid is required")
	}
	if customerID == "" {
		return fmt.Errorf("customerId is required")
	}

	cfg, _, err := m.cfgStore.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.WifiSSID = ssid
	cfg.WifiPassword = password
	cfg.CustomerID = customerID
	cfg.InitialConfigDone = true
	if err := m.cfgStore.Save(&cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := m.wifi.StopAP(); err != nil {
		log.Println("provision: stop access point:", err)
	}
	log.Println("provision: configured for", customerID, "- restarting")
	if m.restart != nil {
		go m.restart()
	}
	return nil
}

// Reconfigure updates Wi-Fi credentials from normal mode (admin path). The
// new network is joined immediately; credentials are persisted only when the
// join succeeds.
func (m *Machine) Reconfigure(ssid, password string) error {
	if ssid == "" {
		return fmt.Errorf("ssid is required")
	}
	if err := m.wifi.Connect(ssid, password); err != nil {
		return fmt.Errorf("join %q: %w", ssid, err)
	}
	cfg, _, err := m.cfgStore.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.WifiSSID = ssid
	cfg.WifiPassword = password
	if err := m.cfgStore.Save(&cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	log.Println("provision: wifi credentials updated")
	return nil
}

func (m *Machine) Scan() ([]Network, error) { return m.wifi.Scan() }

func (m *Machine) Connected() bool { return m.wifi.Connected() }
