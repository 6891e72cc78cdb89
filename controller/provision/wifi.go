package provision

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Network is one scan result, shaped for the dashboard's wifi picker.
type Network struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal"`
	Security string `json:"security"`
}

// WifiManager abstracts the board's wireless stack: scanning and joining
// networks in normal mode, and running the local access point while the
// device waits for first-time configuration.
type WifiManager interface {
	Scan() ([]Network, error)
	Connect(ssid, password string) error
	Connected() bool
	StartAP(ssid string) error
	StopAP() error
}

// Nmcli drives NetworkManager via the nmcli CLI. No pack library wraps
// NetworkManager, so this shells out.
type Nmcli struct {
	Iface string
}

const hotspotConn = "aquatrack-setup"

func (n *Nmcli) run(args ...string) (string, error) {
	out, err := exec.Command("nmcli", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (n *Nmcli) Scan() ([]Network, error) {
	out, err := n.run("-t", "-f", "SSID,SIGNAL,SECURITY", "dev", "wifi", "list", "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	var nets []Network
	seen := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 || parts[0] == "" || seen[parts[0]] {
			continue
		}
		seen[parts[0]] = true
		signal, _ := strconv.Atoi(parts[1])
		nets = append(nets, Network{SSID: parts[0], Signal: signal, Security: parts[2]})
	}
	return nets, nil
}

func (n *Nmcli) Connect(ssid, password string) error {
	args := []string{"dev", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if n.Iface != "" {
		args = append(args, "ifname", n.Iface)
	}
	_, err := n.run(args...)
	return err
}

func (n *Nmcli) Connected() bool {
	out, err := n.run("-t", "-f", "STATE", "g")
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(out), "connected")
}

func (n *Nmcli) StartAP(ssid string) error {
	args := []string{"dev", "wifi", "hotspot", "con-name", hotspotConn, "ssid", ssid}
	if n.Iface != "" {
		args = append(args, "ifname", n.Iface)
	}
	_, err := n.run(args...)
	return err
}

func (n *Nmcli) StopAP() error {
	_, err := n.run("con", "delete", hotspotConn)
	return err
}

// FakeWifi is an in-memory WifiManager for tests and dev mode.
type FakeWifi struct {
	mu        sync.Mutex
	Networks  []Network
	connected bool
	apRunning bool
	LastSSID  string
	LastPass  string
	FailJoin  bool
}

func (f *FakeWifi) Scan() ([]Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Network(nil), f.Networks...), nil
}

func (f *FakeWifi) Connect(ssid, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailJoin {
		return fmt.Errorf("join %q failed", ssid)
	}
	f.LastSSID = ssid
	f.LastPass = password
	f.connected = true
	return nil
}

func (f *FakeWifi) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeWifi) StartAP(ssid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apRunning = true
	f.LastSSID = ssid
	return nil
}

func (f *FakeWifi) StopAP() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apRunning = false
	return nil
}

func (f *FakeWifi) APRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apRunning
}

func (f *FakeWifi) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}
