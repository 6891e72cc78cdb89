package device

import (
	"testing"
	"time"
)

func planConfig() Config {
	return Config{
		CustomerID:  "JH09d01301",
		PlanEndDate: "2026-03-31",
		MaxHours:    100,
		MaxLiters:   500,
	}
}

func TestPlanExpiredZeroCeilings(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cfg := planConfig()
	cfg.MaxHours = 0
	if !PlanExpired(&cfg, 0, 0, 0, now, true) {
		t.Fatal("zero hour ceiling must read as expired")
	}
	cfg = planConfig()
	cfg.MaxLiters = 0
	if !PlanExpired(&cfg, 0, 0, 0, now, true) {
		t.Fatal("zero liter ceiling must read as expired")
	}
}

func TestPlanExpiredByDate(t *testing.T) {
	cfg := planConfig()

	within := time.Date(2026, 3, 31, 23, 59, 58, 0, time.UTC)
	if PlanExpired(&cfg, 0, 0, 0, within, true) {
		t.Fatal("expired before end of plan day")
	}
	past := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !PlanExpired(&cfg, 0, 0, 0, past, true) {
		t.Fatal("not expired past end of plan day")
	}
	// Without a running clock the date cannot be trusted.
	if PlanExpired(&cfg, 0, 0, 0, past, false) {
		t.Fatal("date enforced against a stopped clock")
	}
}

func TestPlanExpiredMalformedDateFailsSafe(t *testing.T) {
	cfg := planConfig()
	cfg.PlanEndDate = "31/03/2026"
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if !PlanExpired(&cfg, 0, 0, 0, now, true) {
		t.Fatal("malformed configured date did not fail safe")
	}
}

func TestPlanExpiredNullDateIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, d := range []string{"", "0000-00-00"} {
		cfg := planConfig()
		cfg.PlanEndDate = d
		if PlanExpired(&cfg, 0, 0, 0, now, true) {
			t.Fatalf("null date %q treated as expired", d)
		}
	}
}

func TestPlanExpiredByUsage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cfg := planConfig()

	if PlanExpired(&cfg, 99, 0, 0.5, now, true) {
		t.Fatal("expired below hour ceiling")
	}
	// Live session hours count toward the ceiling mid-session.
	if !PlanExpired(&cfg, 99, 0, 1.5, now, true) {
		t.Fatal("not expired when persisted plus session hours cross the ceiling")
	}
	if !PlanExpired(&cfg, 0, 500, 0, now, true) {
		t.Fatal("not expired at liter ceiling")
	}
}

// Once a plan reads expired, advancing time must never flip it back.
func TestPlanExpiryMonotonicInTime(t *testing.T) {
	cfg := planConfig()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 48; i++ {
		now := start.Add(time.Duration(i) * time.Hour)
		if !PlanExpired(&cfg, 0, 0, 0, now, true) {
			t.Fatalf("plan un-expired at %v", now)
		}
	}
}

func TestDaysRemaining(t *testing.T) {
	cases := []struct {
		now  time.Time
		date string
		days int
		ok   bool
	}{
		{time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC), "2026-03-31", 1, true},
		{time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC), "2026-03-31", 2, true},
		{time.Date(2026, 3, 29, 23, 0, 0, 0, time.UTC), "2026-03-31", 3, true},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "2026-03-31", -1, true},
		{time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "not-a-date", 0, false},
	}
	for _, c := range cases {
		days, ok := DaysRemaining(c.now, c.date)
		if days != c.days || ok != c.ok {
			t.Errorf("DaysRemaining(%v, %q) = (%d, %v), want (%d, %v)",
				c.now, c.date, days, ok, c.days, c.ok)
		}
	}
}
