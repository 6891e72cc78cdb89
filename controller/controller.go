package controller

import (
	"time"

	"github.com/droppurity/aquatrack/controller/storage"
	"github.com/droppurity/aquatrack/controller/telemetry"
)

const (
	ErrorBucket = "errors"

	// UsageBucket holds daily usage snapshots for the local dashboard.
	UsageBucket = "usage_readings"
)

// UsageReading is one daily snapshot of the running totals.
type UsageReading struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customerId"`
	TotalHours  float64 `json:"totalHours"`
	TotalLiters float64 `json:"totalLiters"`
	Time        int64   `json:"time"`
}

// Controller is the surface subsystems get from the daemon.
type Controller interface {
	Store() storage.Store
	Telemetry() *telemetry.Telemetry
	LogError(id, msg string) error
	DevMode() bool
}

// ErrorRecord is a persisted non-fatal failure, kept in the errors bucket so
// the dashboard can show what went wrong and when.
type ErrorRecord struct {
	ID      string `json:"id"`
	Subsys  string `json:"subsys"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// LogError persists an error record to the given store. Shared by the daemon
// and by tests that stub the Controller interface.
func LogError(store storage.Store, subsys, msg string) error {
	rec := ErrorRecord{
		Subsys:  subsys,
		Message: msg,
		Time:    time.Now().Unix(),
	}
	return store.Create(ErrorBucket, func(id string) interface{} {
		rec.ID = id
		return &rec
	})
}
