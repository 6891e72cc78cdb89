package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// Limits is the plan refresh returned by the recharge endpoint.
type Limits struct {
	MaxHours    float64 `json:"maxHours"`
	MaxLiters   float64 `json:"maxTotalLiters"`
	PlanEndDate string  `json:"planEndDate"`
}

// UsageReport is the save-data payload.
type UsageReport struct {
	CustomerID      string  `json:"customerId"`
	TotalHours      float64 `json:"totalHours"`
	TotalLiters     float64 `json:"totalLiters"`
	DeviceTimestamp int64   `json:"deviceTimestamp"`
	LocalIP         string  `json:"localIp,omitempty"`
}

// SyncResult is what a completed attempt hands back to the control loop.
// The loop, as the single writer of config and ledger, applies the effects.
type SyncResult struct {
	ReportOK  bool
	ReportErr string
	Limits    *Limits // nil when the fetch failed
	NotFound  bool    // fetch answered 404: unknown customer
	FetchErr  string
	At        time.Time
}

// Success reports a wholly successful attempt: both calls succeeded. Only
// then may the last-sync timestamp advance.
func (r *SyncResult) Success() bool {
	return r.ReportOK && r.Limits != nil
}

type SyncConfig struct {
	ReportURL string
	LimitsURL string
	Token     string
	Timeout   time.Duration
}

// Syncer runs sync attempts on a worker goroutine so the control loop never
// stalls on a network round-trip. At most one attempt is in flight;
// concurrent triggers are rejected, not queued.
type Syncer struct {
	cfg       SyncConfig
	client    *http.Client
	calibrate func() error
	inFlight  atomic.Bool
	results   chan SyncResult
}

// NewSyncer builds a sync client. calibrate, when non-nil, is invoked at the
// start of every attempt to refresh wall-clock time.
func NewSyncer(cfg SyncConfig, calibrate func() error) *Syncer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Syncer{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		calibrate: calibrate,
		results:   make(chan SyncResult, 4),
	}
}

func (s *Syncer) Results() <-chan SyncResult { return s.results }

func (s *Syncer) InFlight() bool { return s.inFlight.Load() }

// Trigger starts an attempt for the given usage snapshot. It returns false
// when another attempt is already in flight.
func (s *Syncer) Trigger(report UsageReport) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.inFlight.Store(false)
		res := s.attempt(report)
		select {
		case s.results <- res:
		default:
			// The loop has stopped draining; drop rather than block.
			log.Println("sync-client: result channel full, dropping result")
		}
	}()
	return true
}

func (s *Syncer) attempt(report UsageReport) SyncResult {
	if s.calibrate != nil {
		if err := s.calibrate(); err != nil {
			log.Println("sync-client: time calibration failed:", err)
		}
	}

	var res SyncResult
	res.ReportOK, res.ReportErr = s.reportUsage(report)
	res.Limits, res.NotFound, res.FetchErr = s.fetchLimits(report.CustomerID)
	res.At = time.Now()
	return res
}

func (s *Syncer) reportUsage(report UsageReport) (bool, string) {
	body, err := json.Marshal(report)
	if err != nil {
		return false, fmt.Sprintf("marshal usage report: %v", err)
	}
	resp, err := s.client.Post(s.cfg.ReportURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Sprintf("report usage: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return false, fmt.Sprintf("report usage: server answered %d", resp.StatusCode)
	}
	return true, ""
}

func (s *Syncer) fetchLimits(customerID string) (*Limits, bool, string) {
	req, err := http.NewRequest(http.MethodGet, s.cfg.LimitsURL, nil)
	if err != nil {
		return nil, false, fmt.Sprintf("fetch limits: %v", err)
	}
	q := req.URL.Query()
	q.Set("customerId", customerID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Sprintf("fetch limits: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, true, fmt.Sprintf("fetch limits: customer %q unknown to server", customerID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Sprintf("fetch limits: server answered %d", resp.StatusCode)
	}
	var limits Limits
	if err := json.NewDecoder(resp.Body).Decode(&limits); err != nil {
		return nil, false, fmt.Sprintf("fetch limits: decode response: %v", err)
	}
	return &limits, false, ""
}
