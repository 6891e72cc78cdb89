package clock

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := NewFake(base)

	now, ok := f.Now()
	if !ok || !now.Equal(base) {
		t.Fatalf("Now() = %v, %v", now, ok)
	}

	f.Advance(time.Hour)
	now, _ = f.Now()
	if !now.Equal(base.Add(time.Hour)) {
		t.Fatalf("after advance Now() = %v", now)
	}

	f.SetRunning(false)
	if _, ok := f.Now(); ok {
		t.Fatal("stopped clock reported as running")
	}
}

func TestRTCPlausibleSystemClock(t *testing.T) {
	r := NewRTC()
	// The test host's clock is set, so the RTC must report running even
	// without calibration.
	if _, ok := r.Now(); !ok {
		t.Fatal("plausible system clock reported as not running")
	}
}

// Calibrate against a local fake SNTP server answering with a known time.
func TestRTCCalibrate(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	serverTime := time.Now().Add(90 * time.Second)
	go func() {
		buf := make([]byte, 48)
		_, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		resp := make([]byte, 48)
		secs := uint64(serverTime.Unix()) + ntpUnixDelta
		binary.BigEndian.PutUint32(resp[40:44], uint32(secs))
		conn.WriteTo(resp, addr)
	}()

	r := NewRTC()
	if err := r.Calibrate(conn.LocalAddr().String()); err != nil {
		t.Fatal(err)
	}

	now, ok := r.Now()
	if !ok {
		t.Fatal("calibrated clock reported as not running")
	}
	drift := now.Sub(time.Now().Add(90 * time.Second))
	if drift < -5*time.Second || drift > 5*time.Second {
		t.Fatalf("calibrated clock off by %v", drift)
	}
}

func TestRTCCalibrateRejectsZeroTimestamp(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	go func() {
		buf := make([]byte, 48)
		_, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		conn.WriteTo(make([]byte, 48), addr)
	}()

	r := NewRTC()
	if err := r.Calibrate(conn.LocalAddr().String()); err == nil {
		t.Fatal("all-zero response accepted")
	}
}
