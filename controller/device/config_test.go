package device

import (
	"testing"

	"github.com/droppurity/aquatrack/controller/nvm"
)

func TestConfigRoundTrip(t *testing.T) {
	mem := nvm.NewMem(ConfigNVMSize)
	s := NewConfigStore(mem)

	want := Config{
		CustomerID:        "JH09d01301",
		PlanEndDate:       "2026-03-31",
		MaxHours:          120.5,
		MaxLiters:         750,
		WifiSSID:          "HomeNet",
		WifiPassword:      "correct horse battery",
		LastSyncUnix:      1772366400,
		InErrorState:      true,
		InitialConfigDone: true,
	}
	if err := s.Save(&want); err != nil {
		t.Fatal(err)
	}

	got, recovered, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if recovered {
		t.Fatal("valid record reported as recovered")
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestConfigFirstBootRecoversDefaults(t *testing.T) {
	s := NewConfigStore(nvm.NewMem(ConfigNVMSize))

	cfg, recovered, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !recovered {
		t.Fatal("blank memory not reported as recovered")
	}
	if !cfg.TestMode() {
		t.Fatalf("recovered config is not test mode: %+v", cfg)
	}
	if cfg.MaxHours <= 0 || cfg.MaxLiters <= 0 {
		t.Fatalf("recovered config has unusable ceilings: %+v", cfg)
	}

	// Recovery persists; a second load must be clean.
	if _, recovered, _ := s.Load(); recovered {
		t.Fatal("defaults were not persisted after recovery")
	}
}

func TestConfigChecksumMismatchRecovers(t *testing.T) {
	mem := nvm.NewMem(ConfigNVMSize)
	s := NewConfigStore(mem)

	cfg := Config{CustomerID: "JH09d01301", MaxHours: 100, MaxLiters: 500}
	if err := s.Save(&cfg); err != nil {
		t.Fatal(err)
	}
	// Flip one byte in the customer id field.
	if err := mem.WriteAt([]byte{0xFF}, 10); err != nil {
		t.Fatal(err)
	}

	got, recovered, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !recovered {
		t.Fatal("corrupt record not detected")
	}
	if !got.TestMode() {
		t.Fatalf("corruption did not recover to test mode: %+v", got)
	}
}

func TestNullDate(t *testing.T) {
	for _, d := range []string{"", "0000-00-00"} {
		if !NullDate(d) {
			t.Errorf("NullDate(%q) = false", d)
		}
	}
	if NullDate("2026-03-31") {
		t.Error("real date read as null")
	}
}
