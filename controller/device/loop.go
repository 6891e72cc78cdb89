package device

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/reef-pi/hal"

	"github.com/droppurity/aquatrack/controller"
	"github.com/droppurity/aquatrack/controller/clock"
)

const (
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultSaveInterval      = 5 * time.Minute
	DefaultSyncInterval      = 24 * time.Hour
	DefaultSyncRetryInterval = 5 * time.Minute
)

// Pins are the four hardware lines the control core owns.
type Pins struct {
	Trigger hal.DigitalInputPin
	Flow    hal.DigitalInputPin
	Relay   hal.DigitalOutputPin
	Buzzer  hal.DigitalOutputPin
}

type Options struct {
	TickInterval time.Duration
	SaveInterval time.Duration
	SyncInterval time.Duration
	// SyncRetryInterval is the minimum spacing between sync attempts, so a
	// failing server is retried on a schedule instead of every tick.
	SyncRetryInterval time.Duration
	LocalIP           func() string
	Connected         func() bool
	Watchdog          func()
}

// Status is the device snapshot the dashboard consumes, over the status
// endpoint and the WebSocket broadcast (snake_case per that contract).
type Status struct {
	CustomerID      string  `json:"customerId"`
	RelayIsOn       bool    `json:"relay_is_on"`
	TriggerIsActive bool    `json:"trigger_is_active"`
	TotalHours      float64 `json:"total_hours"`
	MaxHours        float64 `json:"max_hours"`
	TotalLiters     float64 `json:"total_liters"`
	MaxLiters       float64 `json:"max_liters"`
	PlanEndDate     string  `json:"plan_end_date"`
	IsPlanExpired   bool    `json:"is_plan_expired"`
	InErrorState    bool    `json:"in_error_state"`
	ClockRunning    bool    `json:"clock_running"`
	TestMode        bool    `json:"test_mode"`
	LastSyncUnix    int64   `json:"last_sync_unixtime"`
}

// Device is the single-writer aggregate of all control state. Every mutation
// of config, ledger and usage totals happens on the loop goroutine; other
// goroutines talk to it through the request channel and read through
// Snapshot.
type Device struct {
	c        controller.Controller
	clk      clock.Clock
	cfgStore *ConfigStore
	ledger   *Ledger
	flow     *FlowCounter
	relay    *Relay
	buzzer   *Buzzer
	syncer   *Syncer
	pins     Pins
	opts     Options

	cfg    Config
	hours  float64
	liters float64

	userEnable      bool
	nowMono         time.Time
	lastSaveMono    time.Time
	haveSaveMark    bool
	lastAttemptMono time.Time
	haveAttemptMark bool
	bootEscalate    bool

	requests chan func(*Device)

	mu        sync.Mutex
	snapshot  Status
	listeners []func(Status)
}

// New loads persisted state and assembles the control core. A corrupt or
// first-boot config record recovers to test-mode defaults; ledger totals are
// recovered from the most recent valid slot.
func New(c controller.Controller, clk clock.Clock, cfgStore *ConfigStore, ledger *Ledger, syncer *Syncer, pins Pins, opts Options) (*Device, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.SyncRetryInterval <= 0 {
		opts.SyncRetryInterval = DefaultSyncRetryInterval
	}
	if opts.Connected == nil {
		opts.Connected = func() bool { return true }
	}
	if opts.LocalIP == nil {
		opts.LocalIP = func() string { return "" }
	}

	cfg, recovered, err := cfgStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load device config: %w", err)
	}
	if recovered {
		log.Println("device: config record invalid, recovered test-mode defaults")
	}
	hours, liters, err := ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("load usage ledger: %w", err)
	}

	d := &Device{
		c:          c,
		clk:        clk,
		cfgStore:   cfgStore,
		ledger:     ledger,
		flow:       NewFlowCounter(),
		relay:      NewRelay(pins.Relay),
		buzzer:     NewBuzzer(pins.Buzzer),
		syncer:     syncer,
		pins:       pins,
		opts:       opts,
		cfg:        cfg,
		hours:      hours,
		liters:     liters,
		userEnable: true,
		requests:   make(chan func(*Device), 16),
	}
	d.publish(d.buildStatus(false, false))
	return d, nil
}

func (d *Device) Config() Config { return d.cfg }

// Run drives the loop until the context is cancelled. The relay is forced
// off on the way out.
func (d *Device) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := d.relay.ForceOff(); err != nil {
				log.Println("device: relay off at shutdown:", err)
			}
			return
		case now := <-ticker.C:
			d.Tick(now)
		}
	}
}

// Tick is one pass of the cooperative scheduler: service pending requests,
// apply any finished sync, advance the pulse counter and buzzer against the
// same sampled inputs, apply the interlock, then handle the periodic save
// and sync cadence. The relay-off usage flush runs before the periodic-save
// check so one tick never writes the same session twice.
func (d *Device) Tick(mono time.Time) {
	d.nowMono = mono
	for {
		select {
		case req := <-d.requests:
			req(d)
		default:
			goto serviced
		}
	}
serviced:

	for {
		select {
		case res := <-d.syncer.Results():
			d.applySyncResult(res)
		default:
			goto applied
		}
	}
applied:

	trigger := d.readPin(d.pins.Trigger, "trigger")
	flowHigh := d.readPin(d.pins.Flow, "flow")
	wall, clockOK := d.clk.Now()

	if credit := d.flow.Tick(mono, flowHigh); credit > 0 {
		d.liters += credit
		d.c.Telemetry().IncPulse()
	}

	session := d.relay.SessionHours(wall)
	expired := PlanExpired(&d.cfg, d.hours, d.liters, session, wall, clockOK)
	daysLeft, daysKnown := 0, false
	if clockOK && !NullDate(d.cfg.PlanEndDate) {
		daysLeft, daysKnown = DaysRemaining(wall, d.cfg.PlanEndDate)
	}

	if err := d.buzzer.Tick(mono, trigger, clockOK, expired, daysLeft, daysKnown); err != nil {
		log.Println("buzzer: pin write:", err)
	}

	allowed := d.userEnable && trigger && !d.cfg.InErrorState && !expired
	ev, sessionHours, credited, err := d.relay.Tick(mono, wall, clockOK, allowed)
	if err != nil {
		d.logError("interlock", fmt.Sprintf("relay pin write: %v", err))
	}
	switch ev {
	case RelayTurnedOn:
		log.Println("interlock: relay on")
		d.lastSaveMono = mono
		d.haveSaveMark = true
	case RelayTurnedOff:
		if credited {
			d.hours += sessionHours
			if err := d.ledger.Save(d.hours, d.liters); err != nil {
				d.logError("ledger", fmt.Sprintf("save at relay-off: %v", err))
			}
		} else {
			// Hours are skipped rather than estimated when the clock
			// was not running; a data-loss condition, not a fault.
			d.logError("interlock", "session hours lost: clock not running")
		}
		d.haveSaveMark = false
		log.Println("interlock: relay off")
	}

	if d.relay.On() && d.haveSaveMark && mono.Sub(d.lastSaveMono) >= d.opts.SaveInterval {
		if err := d.ledger.Save(d.hours+d.relay.SessionHours(wall), d.liters); err != nil {
			d.logError("ledger", fmt.Sprintf("periodic save: %v", err))
		}
		d.lastSaveMono = mono
	}

	if d.shouldSync(mono, wall, clockOK, expired) {
		d.startSync(wall)
	}

	if d.opts.Watchdog != nil {
		d.opts.Watchdog()
	}

	d.updateTelemetry(trigger, daysLeft, daysKnown)
	st := d.buildStatus(trigger, expired)
	d.publish(st)
}

func (d *Device) readPin(pin hal.DigitalInputPin, name string) bool {
	v, err := pin.Read()
	if err != nil {
		log.Printf("device: read %s pin: %v", name, err)
		return false
	}
	return v
}

func (d *Device) logError(subsys, msg string) {
	log.Println(subsys+":", msg)
	if err := d.c.LogError(subsys, msg); err != nil {
		log.Println("device: persist error record:", err)
	}
}

// shouldSync implements the sync cadence: never for an unconfigured or
// test-mode device, never offline, never while an attempt is in flight, and
// never sooner than the retry interval after the previous attempt, so a
// failing server is not hammered tick after tick. Otherwise sync when the
// interval since the last success has elapsed, or once at boot when the
// device comes up already expired or in error state.
func (d *Device) shouldSync(mono, wall time.Time, clockOK, expired bool) bool {
	if d.cfg.CustomerID == "" || d.cfg.TestMode() {
		return false
	}
	if !d.opts.Connected() || d.syncer.InFlight() {
		return false
	}
	if d.haveAttemptMark && mono.Sub(d.lastAttemptMono) < d.opts.SyncRetryInterval {
		return false
	}
	if !d.bootEscalate && (expired || d.cfg.InErrorState) {
		return true
	}
	if !clockOK {
		return false
	}
	if d.cfg.LastSyncUnix == 0 {
		return true
	}
	return wall.Sub(time.Unix(d.cfg.LastSyncUnix, 0)) >= d.opts.SyncInterval
}

func (d *Device) startSync(wall time.Time) {
	d.bootEscalate = true
	d.lastAttemptMono = d.nowMono
	d.haveAttemptMark = true
	report := UsageReport{
		CustomerID:      d.cfg.CustomerID,
		TotalHours:      d.hours + d.relay.SessionHours(wall),
		TotalLiters:     d.liters,
		DeviceTimestamp: wall.Unix(),
		LocalIP:         d.opts.LocalIP(),
	}
	if d.syncer.Trigger(report) {
		log.Println("sync-client: attempt started for", report.CustomerID)
	}
}

// applySyncResult is the only place plan-limit fields are overwritten. The
// sync timestamp advances only on a wholly successful attempt, so a partial
// failure is retried at the next scheduled interval.
func (d *Device) applySyncResult(res SyncResult) {
	if !res.ReportOK && res.ReportErr != "" {
		d.logError("sync-client", res.ReportErr)
	}

	dirty := false
	if res.NotFound {
		if !d.cfg.InErrorState {
			d.cfg.InErrorState = true
			dirty = true
		}
		d.logError("sync-client", res.FetchErr)
	} else if res.Limits == nil && res.FetchErr != "" {
		d.logError("sync-client", res.FetchErr)
	}

	if res.Limits != nil {
		lim := res.Limits
		if d.cfg.InErrorState {
			d.cfg.InErrorState = false
			dirty = true
			log.Println("sync-client: error state cleared by server")
		}
		if lim.PlanEndDate != d.cfg.PlanEndDate && !NullDate(lim.PlanEndDate) {
			// New billing cycle: usage restarts from zero.
			d.hours = 0
			d.liters = 0
			d.flow.Reset()
			if err := d.ledger.Reset(); err != nil {
				d.logError("ledger", fmt.Sprintf("reset for new plan: %v", err))
			}
			d.cfg.PlanEndDate = lim.PlanEndDate
			dirty = true
			log.Println("sync-client: new plan cycle, usage reset")
		}
		if lim.MaxHours != d.cfg.MaxHours {
			d.cfg.MaxHours = lim.MaxHours
			dirty = true
		}
		if lim.MaxLiters != d.cfg.MaxLiters {
			d.cfg.MaxLiters = lim.MaxLiters
			dirty = true
		}
	}

	if res.Success() {
		d.cfg.LastSyncUnix = res.At.Unix()
		dirty = true
		d.c.Telemetry().IncSyncSuccess()
		log.Println("sync-client: sync complete")
	} else {
		d.c.Telemetry().IncSyncFailure()
	}

	if dirty {
		if err := d.cfgStore.Save(&d.cfg); err != nil {
			d.logError("config", fmt.Sprintf("save after sync: %v", err))
		}
	}
}

func (d *Device) updateTelemetry(trigger bool, daysLeft int, daysKnown bool) {
	t := d.c.Telemetry()
	t.SetRelay(d.relay.On())
	t.SetTrigger(trigger)
	t.SetErrorState(d.cfg.InErrorState)
	t.SetUsage(d.hours, d.liters)
	if daysKnown {
		t.SetDaysRemaining(daysLeft)
	}
}

func (d *Device) buildStatus(trigger, expired bool) Status {
	wall, clockOK := d.clk.Now()
	return Status{
		CustomerID:      d.cfg.CustomerID,
		RelayIsOn:       d.relay.On(),
		TriggerIsActive: trigger,
		TotalHours:      d.hours + d.relay.SessionHours(wall),
		MaxHours:        d.cfg.MaxHours,
		TotalLiters:     d.liters,
		MaxLiters:       d.cfg.MaxLiters,
		PlanEndDate:     d.cfg.PlanEndDate,
		IsPlanExpired:   expired,
		InErrorState:    d.cfg.InErrorState,
		ClockRunning:    clockOK,
		TestMode:        d.cfg.TestMode(),
		LastSyncUnix:    d.cfg.LastSyncUnix,
	}
}

func (d *Device) publish(st Status) {
	d.mu.Lock()
	changed := st != d.snapshot
	d.snapshot = st
	listeners := d.listeners
	d.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(st)
	}
}

// Snapshot returns the last published device state; safe from any goroutine.
func (d *Device) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Subscribe registers a listener invoked (from the loop goroutine) whenever
// the published state changes.
func (d *Device) Subscribe(fn func(Status)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *Device) enqueue(fn func(*Device)) error {
	select {
	case d.requests <- fn:
		return nil
	default:
		return fmt.Errorf("device busy: request queue full")
	}
}

// RequestSync asks the loop to start a sync attempt on its next tick,
// regardless of the scheduled interval. Test-mode and unconfigured devices
// skip silently.
func (d *Device) RequestSync() error {
	return d.enqueue(func(d *Device) {
		if d.cfg.CustomerID == "" || d.cfg.TestMode() {
			log.Println("sync-client: manual sync skipped in test mode")
			return
		}
		wall, _ := d.clk.Now()
		d.startSync(wall)
	})
}

// RequestCheckpoint asks the loop to write current totals to the ledger on
// its next tick, outside the usual save cadence.
func (d *Device) RequestCheckpoint() error {
	return d.enqueue(func(d *Device) {
		wall, _ := d.clk.Now()
		if err := d.ledger.Save(d.hours+d.relay.SessionHours(wall), d.liters); err != nil {
			d.logError("ledger", fmt.Sprintf("checkpoint: %v", err))
		}
	})
}

// SetCustomerID rebinds the device to a customer. A changed id starts a
// fresh usage cycle and clears any sticky error state.
func (d *Device) SetCustomerID(id string) error {
	if id == "" || len(id) > customerIDLen {
		return fmt.Errorf("invalid customer id")
	}
	return d.enqueue(func(d *Device) {
		if id == d.cfg.CustomerID {
			return
		}
		d.cfg.CustomerID = id
		d.cfg.InErrorState = false
		d.cfg.LastSyncUnix = 0
		d.hours = 0
		d.liters = 0
		d.flow.Reset()
		if err := d.ledger.Reset(); err != nil {
			d.logError("ledger", fmt.Sprintf("reset for new customer: %v", err))
		}
		if err := d.cfgStore.Save(&d.cfg); err != nil {
			d.logError("config", fmt.Sprintf("save new customer id: %v", err))
		}
		log.Println("device: customer id set to", id)
	})
}

// SetRelayEnable is the dashboard's manual relay command. It is an input to
// the interlock, never an override: "on" only permits operation, the safety
// conditions still decide.
func (d *Device) SetRelayEnable(enable bool) error {
	return d.enqueue(func(d *Device) {
		d.userEnable = enable
		log.Println("device: user relay enable =", enable)
	})
}
