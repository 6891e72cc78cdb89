package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/droppurity/aquatrack/controller/nvm"
)

// TestCustomerID places the device in offline test mode: no sync, no plan
// enforcement against the server.
const TestCustomerID = "test12345"

const (
	configMagic   = 0xA97A
	configVersion = 1

	flagConfigDone = 1 << 0
	flagErrorState = 1 << 1

	customerIDLen = 32
	ssidLen       = 32
	passwordLen   = 64
	dateLen       = 10

	// magic(2) version(1) flags(1) id(32) ssid(32) pass(64) date(10) pad(2)
	// maxHours(8) maxLiters(8) lastSync(8) reserved(20) crc(4)
	configRecordSize = 192
	configCRCOffset  = configRecordSize - 4
)

// Minimum NVM sizes the persistence layers need; callers sizing a backing
// device or carving sections out of a shared EEPROM use these.
const (
	ConfigNVMSize = configRecordSize
	LedgerNVMSize = LedgerSlots * ledgerSlotSize
)

// Config is the device's single persisted configuration record. It is the
// source of truth for plan limits and is rewritten wholesale on every
// successful sync.
type Config struct {
	CustomerID        string
	PlanEndDate       string // ISO YYYY-MM-DD, inclusive through 23:59:59
	MaxHours          float64
	MaxLiters         float64
	WifiSSID          string
	WifiPassword      string
	LastSyncUnix      int64
	InErrorState      bool
	InitialConfigDone bool
}

// TestMode reports whether the device is bound to the offline test customer.
func (c Config) TestMode() bool {
	return c.CustomerID == TestCustomerID
}

// NullDate reports whether a plan end date is the null sentinel. The server
// has emitted both an empty string and a zero date over time.
func NullDate(d string) bool {
	return d == "" || d == "0000-00-00"
}

// DefaultConfig is the known-safe record written when the stored one is
// missing or corrupt: offline test mode with generous local limits.
func DefaultConfig() Config {
	return Config{
		CustomerID:  TestCustomerID,
		PlanEndDate: "2099-12-31",
		MaxHours:    100,
		MaxLiters:   500,
	}
}

func putPadded(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func trimPadded(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func encodeConfig(c *Config) []byte {
	buf := make([]byte, configRecordSize)
	binary.LittleEndian.PutUint16(buf[0:2], configMagic)
	buf[2] = configVersion
	var flags byte
	if c.InitialConfigDone {
		flags |= flagConfigDone
	}
	if c.InErrorState {
		flags |= flagErrorState
	}
	buf[3] = flags
	putPadded(buf[4:4+customerIDLen], c.CustomerID)
	putPadded(buf[36:36+ssidLen], c.WifiSSID)
	putPadded(buf[68:68+passwordLen], c.WifiPassword)
	putPadded(buf[132:132+dateLen], c.PlanEndDate)
	binary.LittleEndian.PutUint64(buf[144:152], math.Float64bits(c.MaxHours))
	binary.LittleEndian.PutUint64(buf[152:160], math.Float64bits(c.MaxLiters))
	binary.LittleEndian.PutUint64(buf[160:168], uint64(c.LastSyncUnix))
	crc := crc32.ChecksumIEEE(buf[:configCRCOffset])
	binary.LittleEndian.PutUint32(buf[configCRCOffset:], crc)
	return buf
}

func decodeConfig(buf []byte) (Config, error) {
	var c Config
	if len(buf) < configRecordSize {
		return c, fmt.Errorf("config record truncated: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != configMagic {
		return c, fmt.Errorf("config record uninitialized")
	}
	if buf[2] != configVersion {
		return c, fmt.Errorf("config record version %d not supported", buf[2])
	}
	crc := binary.LittleEndian.Uint32(buf[configCRCOffset:])
	if crc32.ChecksumIEEE(buf[:configCRCOffset]) != crc {
		return c, fmt.Errorf("config record checksum mismatch")
	}
	flags := buf[3]
	c.InitialConfigDone = flags&flagConfigDone != 0
	c.InErrorState = flags&flagErrorState != 0
	c.CustomerID = trimPadded(buf[4 : 4+customerIDLen])
	c.WifiSSID = trimPadded(buf[36 : 36+ssidLen])
	c.WifiPassword = trimPadded(buf[68 : 68+passwordLen])
	c.PlanEndDate = trimPadded(buf[132 : 132+dateLen])
	c.MaxHours = math.Float64frombits(binary.LittleEndian.Uint64(buf[144:152]))
	c.MaxLiters = math.Float64frombits(binary.LittleEndian.Uint64(buf[152:160]))
	c.LastSyncUnix = int64(binary.LittleEndian.Uint64(buf[160:168]))
	return c, nil
}

// ConfigStore persists the configuration record at a fixed address in the
// internal non-volatile memory.
type ConfigStore struct {
	dev nvm.Device
}

func NewConfigStore(dev nvm.Device) *ConfigStore {
	return &ConfigStore{dev: dev}
}

// Load reads the record. A failed validation (first boot, or a write that
// lost power mid-commit) recovers by persisting test-mode defaults; the
// second return value reports that recovery happened.
func (s *ConfigStore) Load() (Config, bool, error) {
	buf := make([]byte, configRecordSize)
	if err := s.dev.ReadAt(buf, 0); err != nil {
		return Config{}, false, err
	}
	cfg, err := decodeConfig(buf)
	if err == nil {
		return cfg, false, nil
	}
	cfg = DefaultConfig()
	if err := s.Save(&cfg); err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}

func (s *ConfigStore) Save(c *Config) error {
	return s.dev.WriteAt(encodeConfig(c), 0)
}
