package device

import (
	"time"

	"github.com/droppurity/aquatrack/controller"
	"github.com/droppurity/aquatrack/controller/clock"
	"github.com/droppurity/aquatrack/controller/drivers"
	"github.com/droppurity/aquatrack/controller/nvm"
	"github.com/droppurity/aquatrack/controller/storage"
	"github.com/droppurity/aquatrack/controller/telemetry"
)

type testController struct {
	store storage.Store
	tele  *telemetry.Telemetry
}

func newTestController() *testController {
	s := storage.NewTestStore()
	s.CreateBucket(controller.ErrorBucket)
	return &testController{store: s, tele: telemetry.New(telemetry.Config{})}
}

func (c *testController) Store() storage.Store            { return c.store }
func (c *testController) Telemetry() *telemetry.Telemetry { return c.tele }
func (c *testController) DevMode() bool                   { return true }

func (c *testController) LogError(id, msg string) error {
	return controller.LogError(c.store, id, msg)
}

// testDevice bundles a fully simulated device for loop tests.
type testDevice struct {
	dev       *Device
	clk       *clock.Fake
	trigger   *drivers.SimPin
	flow      *drivers.SimPin
	relayPin  *drivers.SimPin
	buzzerPin *drivers.SimPin
	cfgMem    *nvm.Mem
	ledgerMem *nvm.Mem
}

func newTestDevice(t interface{ Fatalf(string, ...interface{}) }) *testDevice {
	cfgMem := nvm.NewMem(ConfigNVMSize)
	ledgerMem := nvm.NewMem(LedgerNVMSize)
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	trigger := drivers.NewSimPin("trigger", 0)
	flow := drivers.NewSimPin("flow", 1)
	relayPin := drivers.NewSimPin("relay", 2)
	buzzerPin := drivers.NewSimPin("buzzer", 3)

	syncer := NewSyncer(SyncConfig{
		ReportURL: "http://127.0.0.1:1/report",
		LimitsURL: "http://127.0.0.1:1/limits",
	}, nil)

	dev, err := New(newTestController(), clk, NewConfigStore(cfgMem), NewLedger(ledgerMem), syncer, Pins{
		Trigger: trigger,
		Flow:    flow,
		Relay:   relayPin,
		Buzzer:  buzzerPin,
	}, Options{})
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	return &testDevice{
		dev:       dev,
		clk:       clk,
		trigger:   trigger,
		flow:      flow,
		relayPin:  relayPin,
		buzzerPin: buzzerPin,
		cfgMem:    cfgMem,
		ledgerMem: ledgerMem,
	}
}
