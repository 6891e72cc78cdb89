// Package daemon assembles the device: persistence, clock, pins, the control
// loop, provisioning, the HTTP surface and the background workers.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/mux"
	"github.com/reef-pi/rpi/i2c"
	"github.com/robfig/cron/v3"

	"github.com/droppurity/aquatrack/controller"
	"github.com/droppurity/aquatrack/controller/api"
	"github.com/droppurity/aquatrack/controller/clock"
	"github.com/droppurity/aquatrack/controller/device"
	"github.com/droppurity/aquatrack/controller/drivers"
	"github.com/droppurity/aquatrack/controller/health"
	"github.com/droppurity/aquatrack/controller/nvm"
	"github.com/droppurity/aquatrack/controller/provision"
	"github.com/droppurity/aquatrack/controller/simulator"
	"github.com/droppurity/aquatrack/controller/storage"
	"github.com/droppurity/aquatrack/controller/taskq"
	"github.com/droppurity/aquatrack/controller/telemetry"
)

// Layout of the shared i2c EEPROM: config record at the front, the usage
// ledger on the next 256-byte boundary.
const eepromLedgerBase = 256


type Daemon struct {
	settings Settings
	store    storage.Store
	tele     *telemetry.Telemetry
	rtc      *clock.RTC
	dev      *device.Device
	prov     *provision.Machine
	queue    *taskq.Queue
	api      *api.API
	wifi     provision.WifiManager
	sim      *simulator.Simulator
	cron     *cron.Cron
	server   *http.Server
	quit     chan struct{}
}

var _ controller.Controller = (*Daemon)(nil)

func (d *Daemon) Store() storage.Store            { return d.store }
func (d *Daemon) Telemetry() *telemetry.Telemetry { return d.tele }
func (d *Daemon) DevMode() bool                   { return d.settings.DevMode }

func (d *Daemon) LogError(id, msg string) error {
	return controller.LogError(d.store, id, msg)
}

// New wires the daemon from settings. Nothing starts running until Run.
func New(s Settings) (*Daemon, error) {
	store, err := storage.NewStore(s.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, b := range []string{controller.ErrorBucket, taskq.Bucket, controller.UsageBucket} {
		if err := store.CreateBucket(b); err != nil {
			store.Close()
			return nil, err
		}
	}

	d := &Daemon{
		settings: s,
		store:    store,
		tele:     telemetry.New(s.Telemetry),
		rtc:      clock.NewRTC(),
		quit:     make(chan struct{}),
	}

	cfgDev, ledgerDev, err := d.openNVM()
	if err != nil {
		store.Close()
		return nil, err
	}
	cfgStore := device.NewConfigStore(cfgDev)
	ledger := device.NewLedger(ledgerDev)

	syncer := device.NewSyncer(device.SyncConfig{
		ReportURL: s.ReportURL,
		LimitsURL: s.LimitsURL,
		Token:     s.APIToken,
	}, func() error { return d.rtc.Calibrate(s.NTPServer) })

	pins, simTrigger, simFlow, err := d.openPins()
	if err != nil {
		store.Close()
		return nil, err
	}

	if s.DevMode {
		d.wifi = &provision.FakeWifi{}
	} else {
		d.wifi = &provision.Nmcli{Iface: s.WifiIface}
	}

	dev, err := device.New(d, d.rtc, cfgStore, ledger, syncer, pins, device.Options{
		TickInterval: s.TickInterval,
		SaveInterval: s.SaveInterval,
		SyncInterval: s.SyncInterval,
		LocalIP:      localIP,
		Connected:    d.wifi.Connected,
		Watchdog:     watchdogNotifier(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	d.dev = dev

	d.prov = provision.NewMachine(d.wifi, cfgStore, s.APName, d.restart)
	d.queue = taskq.NewQueue(store)

	a, err := api.New(d, dev, d.prov, d.queue, s.CookieSecret, s.UpdateDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.api = a

	if s.DevMode && simTrigger != nil && simFlow != nil {
		sim, err := simulator.New(simFlow, simTrigger, s.FlowExpression, device.FlowHoldDuration)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("flow simulator: %w", err)
		}
		d.sim = sim
	}

	r := mux.NewRouter()
	a.LoadAPI(r)
	r.Handle("/metrics", d.tele.Handler()).Methods("GET")
	d.server = &http.Server{Addr: s.Address, Handler: r}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc("@daily", d.dailyReport); err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

// openNVM resolves the backing memories for the config record and usage
// ledger: sections of the i2c EEPROM when enabled, fixed-size files
// otherwise.
func (d *Daemon) openNVM() (nvm.Device, nvm.Device, error) {
	if d.settings.EEPROMEnable {
		bus, err := i2c.New()
		if err != nil {
			return nil, nil, fmt.Errorf("open i2c bus: %w", err)
		}
		ee := nvm.NewAT24C32(bus, d.settings.EEPROMAddress)
		cfgDev, err := nvm.NewSection(ee, 0, device.ConfigNVMSize)
		if err != nil {
			return nil, nil, err
		}
		ledgerDev, err := nvm.NewSection(ee, eepromLedgerBase, device.LedgerNVMSize)
		if err != nil {
			return nil, nil, err
		}
		return cfgDev, ledgerDev, nil
	}
	cfgDev, err := nvm.NewFile(d.settings.ConfigNVM, device.ConfigNVMSize)
	if err != nil {
		return nil, nil, fmt.Errorf("open config nvm: %w", err)
	}
	ledgerDev, err := nvm.NewFile(d.settings.LedgerNVM, device.LedgerNVMSize)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger nvm: %w", err)
	}
	return cfgDev, ledgerDev, nil
}

// openPins returns the pin set plus, in dev mode, the sim input pins the
// flow simulator drives.
func (d *Daemon) openPins() (device.Pins, *drivers.SimPin, *drivers.SimPin, error) {
	if d.settings.DevMode || d.settings.PinBackend == "" || d.settings.PinBackend == "sim" {
		set, trigger, flow := drivers.SimPins()
		return device.Pins{Trigger: set.Trigger, Flow: set.Flow, Relay: set.Relay, Buzzer: set.Buzzer}, trigger, flow, nil
	}
	set, err := drivers.NewPins(d.settings.PinBackend, d.settings.Pins)
	if err != nil {
		return device.Pins{}, nil, nil, err
	}
	return device.Pins{Trigger: set.Trigger, Flow: set.Flow, Relay: set.Relay, Buzzer: set.Buzzer}, nil, nil, nil
}

// Run starts everything and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.dev.Config()
	mode, err := d.prov.Boot(&cfg)
	if err != nil {
		return err
	}
	if mode == provision.ModeNormal {
		go func() {
			if err := d.rtc.Calibrate(d.settings.NTPServer); err != nil {
				log.Println("daemon: boot time calibration:", err)
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.dev.Run(loopCtx)
	go d.queue.Process(d.runTask)
	if d.sim != nil {
		go d.sim.Run(loopCtx)
	}
	if err := StartSchedule(d.settings.SyncSchedule, d.quit, func() {
		if err := d.dev.RequestSync(); err != nil {
			log.Println("daemon: scheduled sync:", err)
		}
	}); err != nil {
		log.Println("daemon: invalid sync schedule:", err)
	}
	d.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Println("daemon: listening on", d.settings.Address)
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	sd.SdNotify(false, sd.SdNotifyReady)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		d.shutdown()
		return err
	}
	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	sd.SdNotify(false, sd.SdNotifyStopping)
	close(d.quit)
	d.cron.Stop()
	d.queue.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		log.Println("daemon: http shutdown:", err)
	}
	d.tele.Close()
	if err := d.store.Close(); err != nil {
		log.Println("daemon: close database:", err)
	}
	log.Println("daemon: stopped")
}

// runTask executes queued administrator actions one at a time.
func (d *Daemon) runTask(t taskq.Task) {
	log.Println("daemon: running task", t.Action)
	var err error
	switch t.Action {
	case taskq.ActionSync:
		err = d.dev.RequestSync()
	case taskq.ActionCheckpoint:
		err = d.dev.RequestCheckpoint()
	case taskq.ActionRestart:
		d.restart()
	default:
		err = fmt.Errorf("unknown task action %q", t.Action)
	}
	if err != nil {
		if lerr := d.LogError("taskq", fmt.Sprintf("task %s: %v", t.Action, err)); lerr != nil {
			log.Println("daemon: persist task error:", lerr)
		}
	}
}

// restart exits after a short grace period and relies on the service
// manager to bring the daemon back up.
func (d *Daemon) restart() {
	log.Println("daemon: restart requested")
	go func() {
		time.Sleep(time.Second)
		os.Exit(0)
	}()
}

// dailyReport snapshots usage, publishes it, and logs board vitals and a
// plan-expiry reminder once a day.
func (d *Daemon) dailyReport() {
	st := d.dev.Snapshot()
	vitals := health.Check()
	log.Printf("daily: cpu %.1f%% mem %s (%.1f%%) up %s",
		vitals.CPUPercent, vitals.MemUsed, vitals.MemPercent, vitals.Uptime)

	reading := controller.UsageReading{
		CustomerID:  st.CustomerID,
		TotalHours:  st.TotalHours,
		TotalLiters: st.TotalLiters,
		Time:        time.Now().Unix(),
	}
	if err := d.store.Create(controller.UsageBucket, func(id string) interface{} {
		reading.ID = id
		return &reading
	}); err != nil {
		log.Println("daily: persist usage reading:", err)
	}
	d.tele.PublishUsage(st.CustomerID, reading)

	if st.IsPlanExpired {
		log.Println("daily: plan expired for", st.CustomerID)
		return
	}
	if now, ok := d.rtc.Now(); ok && !device.NullDate(st.PlanEndDate) {
		if days, known := device.DaysRemaining(now, st.PlanEndDate); known && days <= 3 {
			log.Printf("daily: plan for %s ends in %d day(s)", st.CustomerID, days)
		}
	}
}

// localIP reports the address of the interface that routes out, for the
// usage report payload. Empty when offline.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// watchdogNotifier returns a rate-limited systemd watchdog kick, or nil when
// the watchdog is not armed.
func watchdogNotifier() func() {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	var last time.Time
	return func() {
		if time.Since(last) >= interval/2 {
			sd.SdNotify(false, sd.SdNotifyWatchdog)
			last = time.Now()
		}
	}
}
