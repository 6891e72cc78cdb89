package device

import (
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeviceInterlockThroughTick(t *testing.T) {
	td := newTestDevice(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// No trigger, no relay.
	td.dev.Tick(base)
	if td.relayPin.LastState() {
		t.Fatal("relay on without trigger")
	}

	td.trigger.Set(true)
	td.dev.Tick(base.Add(10 * time.Millisecond))
	if !td.relayPin.LastState() {
		t.Fatal("relay not on with trigger active")
	}

	// Trigger flicker inside the minimum-on window is ignored.
	td.trigger.Set(false)
	td.dev.Tick(base.Add(510 * time.Millisecond))
	if !td.relayPin.LastState() {
		t.Fatal("relay cycled inside minimum-on window")
	}

	// One hour later the release is honored and the session is credited.
	td.clk.Advance(time.Hour)
	td.dev.Tick(base.Add(time.Hour))
	if td.relayPin.LastState() {
		t.Fatal("relay still on after trigger release")
	}
	st := td.dev.Snapshot()
	if math.Abs(st.TotalHours-1.0) > 1e-6 {
		t.Fatalf("total hours = %v, want ~1.0", st.TotalHours)
	}

	// The credited session must be durable: a fresh ledger over the same
	// memory recovers it.
	hours, _, err := NewLedger(td.ledgerMem).Load()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(hours-1.0) > 1e-6 {
		t.Fatalf("ledger recovered %v hours, want ~1.0", hours)
	}
}

func TestDeviceFlowAccumulation(t *testing.T) {
	td := newTestDevice(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	td.flow.Set(false)
	td.dev.Tick(base)
	td.dev.Tick(base.Add(FlowHoldDuration))
	td.flow.Set(true)
	td.dev.Tick(base.Add(FlowHoldDuration + 10*time.Millisecond))
	td.dev.Tick(base.Add(2*FlowHoldDuration + 10*time.Millisecond))

	if st := td.dev.Snapshot(); st.TotalLiters != LitersPerPulse {
		t.Fatalf("total liters = %v, want %v", st.TotalLiters, LitersPerPulse)
	}
}

func TestDeviceExpiredPlanBlocksRelay(t *testing.T) {
	td := newTestDevice(t)
	td.dev.cfg.MaxHours = 0 // plan exhausted
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	td.trigger.Set(true)
	td.dev.Tick(base)
	if td.relayPin.LastState() {
		t.Fatal("relay energized on an expired plan")
	}
	if st := td.dev.Snapshot(); !st.IsPlanExpired {
		t.Fatal("snapshot does not report expiry")
	}
}

func TestDeviceErrorStateBlocksRelay(t *testing.T) {
	td := newTestDevice(t)
	td.dev.cfg.InErrorState = true
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	td.trigger.Set(true)
	td.dev.Tick(base)
	if td.relayPin.LastState() {
		t.Fatal("relay energized while in error state")
	}
}

func TestDeviceUserDisableBlocksRelay(t *testing.T) {
	td := newTestDevice(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := td.dev.SetRelayEnable(false); err != nil {
		t.Fatal(err)
	}
	td.trigger.Set(true)
	td.dev.Tick(base)
	if td.relayPin.LastState() {
		t.Fatal("relay energized against the manual off command")
	}

	// Re-enabling is permission, not a force: the trigger still gates.
	if err := td.dev.SetRelayEnable(true); err != nil {
		t.Fatal(err)
	}
	td.trigger.Set(false)
	td.dev.Tick(base.Add(10 * time.Millisecond))
	if td.relayPin.LastState() {
		t.Fatal("relay energized without trigger after re-enable")
	}
}

// A failing sync attempt must be retried on the retry interval, not on the
// very next tick.
func TestDeviceFailedSyncRetriesOnInterval(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	td := newTestDevice(t)
	td.dev.syncer = NewSyncer(SyncConfig{
		ReportURL: srv.URL + "/report",
		LimitsURL: srv.URL + "/limits",
	}, nil)
	td.dev.cfg.CustomerID = "JH09d01301"
	td.dev.opts.SyncRetryInterval = time.Hour
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	waitAttemptDone := func(want int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for td.dev.syncer.InFlight() || calls.Load() < want {
			if time.Now().After(deadline) {
				t.Fatalf("attempt did not complete: %d calls, want %d", calls.Load(), want)
			}
			time.Sleep(time.Millisecond)
		}
	}

	// First tick starts one attempt: one report plus one limits call.
	td.dev.Tick(base)
	waitAttemptDone(2)

	// Ticks inside the retry interval must not start another attempt even
	// though the failure left the last-sync timestamp unset.
	for i := 1; i <= 10; i++ {
		td.dev.Tick(base.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls across ticks inside the retry interval, want 2", got)
	}

	// Past the interval the retry goes out.
	td.dev.Tick(base.Add(time.Hour + 10*time.Millisecond))
	waitAttemptDone(4)
}

func TestDeviceSyncTimestampOnlyAdvancesOnFullSuccess(t *testing.T) {
	td := newTestDevice(t)
	at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	td.dev.applySyncResult(SyncResult{
		ReportOK:  false,
		ReportErr: "report usage: server answered 500",
		Limits:    &Limits{MaxHours: 150, MaxLiters: 900, PlanEndDate: td.dev.cfg.PlanEndDate},
		At:        at,
	})
	if td.dev.cfg.LastSyncUnix != 0 {
		t.Fatal("sync timestamp advanced on partial failure")
	}
	// The fetched limits still apply.
	if td.dev.cfg.MaxHours != 150 {
		t.Fatalf("limits not applied on partial failure: %v", td.dev.cfg.MaxHours)
	}

	td.dev.applySyncResult(SyncResult{
		ReportOK: true,
		Limits:   &Limits{MaxHours: 150, MaxLiters: 900, PlanEndDate: td.dev.cfg.PlanEndDate},
		At:       at,
	})
	if td.dev.cfg.LastSyncUnix != at.Unix() {
		t.Fatalf("sync timestamp = %v, want %v", td.dev.cfg.LastSyncUnix, at.Unix())
	}
}

func TestDeviceNewPlanDateResetsUsage(t *testing.T) {
	td := newTestDevice(t)
	td.dev.hours = 42
	td.dev.liters = 120
	at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	td.dev.applySyncResult(SyncResult{
		ReportOK: true,
		Limits:   &Limits{MaxHours: 150, MaxLiters: 900, PlanEndDate: "2026-04-30"},
		At:       at,
	})

	if td.dev.hours != 0 || td.dev.liters != 0 {
		t.Fatalf("usage not reset on new plan: %v hours %v liters", td.dev.hours, td.dev.liters)
	}
	if td.dev.cfg.PlanEndDate != "2026-04-30" {
		t.Fatalf("plan date = %q", td.dev.cfg.PlanEndDate)
	}
	// The wiped ledger must be durable.
	hours, liters, err := NewLedger(td.ledgerMem).Load()
	if err != nil {
		t.Fatal(err)
	}
	if hours != 0 || liters != 0 {
		t.Fatalf("ledger survived plan reset: %v / %v", hours, liters)
	}
	// And the new date persisted.
	cfg, recovered, err := NewConfigStore(td.cfgMem).Load()
	if err != nil || recovered {
		t.Fatalf("reload config: recovered=%v err=%v", recovered, err)
	}
	if cfg.PlanEndDate != "2026-04-30" {
		t.Fatalf("persisted plan date = %q", cfg.PlanEndDate)
	}
}

// A null plan date from the server must never wipe usage.
func TestDeviceNullPlanDateKeepsUsage(t *testing.T) {
	td := newTestDevice(t)
	td.dev.hours = 42
	at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	for _, d := range []string{"", "0000-00-00"} {
		td.dev.applySyncResult(SyncResult{
			ReportOK: true,
			Limits:   &Limits{MaxHours: 150, MaxLiters: 900, PlanEndDate: d},
			At:       at,
		})
		if td.dev.hours != 42 {
			t.Fatalf("usage reset by null date %q", d)
		}
	}
}

func TestDeviceUnknownCustomerSetsStickyError(t *testing.T) {
	td := newTestDevice(t)
	td.dev.applySyncResult(SyncResult{
		ReportOK: true,
		NotFound: true,
		FetchErr: "fetch limits: customer unknown to server",
	})
	if !td.dev.cfg.InErrorState {
		t.Fatal("404 did not set error state")
	}
	// Persisted: survives a reload.
	cfg, _, err := NewConfigStore(td.cfgMem).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.InErrorState {
		t.Fatal("error state not persisted")
	}

	// A later successful sync clears it.
	td.dev.applySyncResult(SyncResult{
		ReportOK: true,
		Limits:   &Limits{MaxHours: 150, MaxLiters: 900, PlanEndDate: td.dev.cfg.PlanEndDate},
		At:       time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC),
	})
	if td.dev.cfg.InErrorState {
		t.Fatal("error state not cleared by successful sync")
	}
}

func TestDeviceSetCustomerID(t *testing.T) {
	td := newTestDevice(t)
	td.dev.hours = 10
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if err := td.dev.SetCustomerID(""); err == nil {
		t.Fatal("empty customer id accepted")
	}
	if err := td.dev.SetCustomerID("this-id-is-far-too-long-to-fit-the-record"); err == nil {
		t.Fatal("oversized customer id accepted")
	}

	if err := td.dev.SetCustomerID("JH09d01301"); err != nil {
		t.Fatal(err)
	}
	td.dev.Tick(base)

	st := td.dev.Snapshot()
	if st.CustomerID != "JH09d01301" {
		t.Fatalf("snapshot customer id = %q", st.CustomerID)
	}
	if st.TestMode {
		t.Fatal("still in test mode after rebind")
	}
	if td.dev.hours != 0 {
		t.Fatal("usage not reset on rebind")
	}
	cfg, _, err := NewConfigStore(td.cfgMem).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CustomerID != "JH09d01301" {
		t.Fatalf("persisted customer id = %q", cfg.CustomerID)
	}
}

func TestDevicePublishesOnChangeOnly(t *testing.T) {
	td := newTestDevice(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var updates []Status
	td.dev.Subscribe(func(st Status) { updates = append(updates, st) })

	td.trigger.Set(true)
	td.dev.Tick(base)
	n := len(updates)
	if n == 0 {
		t.Fatal("no update published for trigger change")
	}
	if !updates[n-1].TriggerIsActive {
		t.Fatal("published state does not show the trigger")
	}

	// Hold everything steady past the minimum-on window; hours tick up so
	// some updates are fine, but freeze the clock and nothing may publish.
	td.clk.SetRunning(true)
	before := len(updates)
	td.dev.Tick(base.Add(3 * time.Second))
	td.dev.Tick(base.Add(3*time.Second + 10*time.Millisecond))
	if len(updates) != before {
		t.Fatalf("published %d updates with no state change", len(updates)-before)
	}
}
