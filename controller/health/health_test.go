package health

import "testing"

func TestCheckIsBestEffort(t *testing.T) {
	s := Check()
	if s.CPUPercent < 0 || s.CPUPercent > 100 {
		t.Fatalf("cpu percent out of range: %v", s.CPUPercent)
	}
	if s.MemPercent < 0 || s.MemPercent > 100 {
		t.Fatalf("mem percent out of range: %v", s.MemPercent)
	}
}
