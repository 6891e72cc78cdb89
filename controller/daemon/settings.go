package daemon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/droppurity/aquatrack/controller/drivers"
	"github.com/droppurity/aquatrack/controller/telemetry"
)

// Settings is the daemon configuration, loaded from a YAML file. Everything
// here is installer-facing; per-customer state lives in the config record on
// non-volatile memory instead.
type Settings struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Database string `yaml:"database"`

	// Paths of the fixed-size NVM images when the i2c EEPROM is not used.
	ConfigNVM string `yaml:"config_nvm"`
	LedgerNVM string `yaml:"ledger_nvm"`

	// i2c EEPROM backing (AT24C32 on the RTC module). When enabled it holds
	// both the config record and the usage ledger.
	EEPROMEnable  bool `yaml:"eeprom_enable"`
	EEPROMAddress byte `yaml:"eeprom_address"`

	PinBackend string            `yaml:"pin_backend"` // "sim" or "gpio"
	Pins       drivers.PinConfig `yaml:"pins"`

	ReportURL string `yaml:"report_url"`
	LimitsURL string `yaml:"limits_url"`
	APIToken  string `yaml:"api_token"`
	NTPServer string `yaml:"ntp_server"`

	// Optional RRULE overriding the fixed sync interval, e.g.
	// "FREQ=HOURLY;INTERVAL=6".
	SyncSchedule string        `yaml:"sync_schedule"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	SaveInterval time.Duration `yaml:"save_interval"`
	TickInterval time.Duration `yaml:"tick_interval"`

	APName       string `yaml:"ap_name"`
	WifiIface    string `yaml:"wifi_iface"`
	CookieSecret string `yaml:"cookie_secret"`
	UpdateDir    string `yaml:"update_dir"`

	DevMode        bool   `yaml:"dev_mode"`
	FlowExpression string `yaml:"flow_expression"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

func DefaultSettings() Settings {
	return Settings{
		Name:          "aquatrack",
		Address:       ":8080",
		Database:      "aquatrack.db",
		ConfigNVM:     "config.nvm",
		LedgerNVM:     "ledger.nvm",
		EEPROMAddress: 0x57,
		PinBackend:    "sim",
		ReportURL:     "https://api.droppurity.in/device/report",
		LimitsURL:     "https://api.droppurity.in/device/limits",
		NTPServer:     "pool.ntp.org:123",
		CookieSecret:  "change-me",
		Telemetry:     telemetry.DefaultConfig(),
	}
}

// LoadSettings reads the YAML file over the defaults. A missing file is not
// an error; the defaults run a sim-backed dev device.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Initialize writes a default settings file for a fresh install.
func Initialize(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	s := DefaultSettings()
	data, err := yaml.Marshal(&s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
