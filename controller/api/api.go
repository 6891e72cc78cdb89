// Package api is the device-local HTTP surface the dashboard talks to:
// status, admin actions, first-time provisioning and the live WebSocket
// feed. Everything except /config, /login and the status page requires an
// admin session.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"

	"github.com/droppurity/aquatrack/controller"
	"github.com/droppurity/aquatrack/controller/device"
	"github.com/droppurity/aquatrack/controller/health"
	"github.com/droppurity/aquatrack/controller/provision"
	"github.com/droppurity/aquatrack/controller/taskq"
)

const maxUploadBytes = 8 << 20

type API struct {
	c     controller.Controller
	dev   *device.Device
	prov  *provision.Machine
	queue *taskq.Queue
	store *sessions.CookieStore
	hub   *hub

	updateDir string

	mu   sync.Mutex
	logs []string
}

func New(c controller.Controller, dev *device.Device, prov *provision.Machine, queue *taskq.Queue, cookieSecret, updateDir string) (*API, error) {
	a := &API{
		c:         c,
		dev:       dev,
		prov:      prov,
		queue:     queue,
		store:     newSessionStore(cookieSecret),
		hub:       newHub(),
		updateDir: updateDir,
	}
	if err := a.ensureCredentials(); err != nil {
		return nil, err
	}
	if dev != nil {
		dev.Subscribe(a.hub.broadcast)
	}
	return a, nil
}

// LoadAPI registers all endpoints.
func (a *API) LoadAPI(r *mux.Router) {
	r.HandleFunc("/login", a.signIn).Methods("POST")
	r.HandleFunc("/logout", a.signOut).Methods("POST")
	r.HandleFunc("/config", a.firstTimeConfig).Methods("POST")
	r.HandleFunc("/ws", a.serveWs).Methods("GET")

	sr := r.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/status", a.getStatus).Methods("GET")
	sr.HandleFunc("/relay", a.adminOnly(a.relayCommand)).Methods("GET")
	sr.HandleFunc("/setid", a.adminOnly(a.setCustomerID)).Methods("POST")
	sr.HandleFunc("/manualsync", a.adminOnly(a.manualSync)).Methods("POST")
	sr.HandleFunc("/scanwifi", a.adminOnly(a.scanWifi)).Methods("GET")
	sr.HandleFunc("/scanwifi", a.adminOnly(a.joinWifi)).Methods("POST")
	sr.HandleFunc("/update", a.adminOnly(a.uploadFirmware)).Methods("POST")
	sr.HandleFunc("/credentials", a.adminOnly(a.setCredentials)).Methods("POST")
	sr.HandleFunc("/tasks", a.adminOnly(a.taskList)).Methods("GET")
	sr.HandleFunc("/tasks/{action}", a.adminOnly(a.taskCancel)).Methods("DELETE")
	sr.HandleFunc("/readings", a.adminOnly(a.readingList)).Methods("GET")
	sr.HandleFunc("/errors", a.adminOnly(a.errorList)).Methods("GET")
	sr.HandleFunc("/log", a.adminOnly(a.logList)).Methods("GET")
}

// appendLog adds an entry to the in-memory activity log, capped at 100 entries.
func (a *API) appendLog(msg string) {
	entry := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), msg)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, entry)
	if len(a.logs) > 100 {
		a.logs = a.logs[len(a.logs)-100:]
	}
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	type response struct {
		device.Status
		Health health.Stats `json:"health"`
	}
	resp := response{Health: health.Check()}
	if a.dev != nil {
		resp.Status = a.dev.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// relayCommand is GET /api/relay?state=on|off, the dashboard's manual
// control. It gates the interlock; it cannot force the relay past safety.
func (a *API) relayCommand(w http.ResponseWriter, r *http.Request) {
	if a.dev == nil {
		http.Error(w, "Device not running", http.StatusServiceUnavailable)
		return
	}
	var enable bool
	switch r.URL.Query().Get("state") {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		http.Error(w, "state must be 'on' or 'off'", http.StatusBadRequest)
		return
	}
	if err := a.dev.SetRelayEnable(enable); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.appendLog(fmt.Sprintf("Relay command: %s", r.URL.Query().Get("state")))
	fmt.Fprintln(w, "OK")
}

func (a *API) setCustomerID(w http.ResponseWriter, r *http.Request) {
	if a.dev == nil {
		http.Error(w, "Device not running", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		CustomerID string `json:"customerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := a.dev.SetCustomerID(req.CustomerID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.appendLog("Customer id set to " + req.CustomerID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) manualSync(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Add(taskq.ActionSync); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.appendLog("Manual sync enqueued")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) scanWifi(w http.ResponseWriter, r *http.Request) {
	nets, err := a.prov.Scan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nets)
}

// joinWifi is the admin Wi-Fi reconfiguration path (no factory reset).
func (a *API) joinWifi(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := a.prov.Reconfigure(req.SSID, req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.appendLog("Wi-Fi reconfigured to " + req.SSID)
	w.WriteHeader(http.StatusNoContent)
}

// firstTimeConfig is the provisioning endpoint the setup page posts to. It
// is gated by "not yet provisioned", not by the admin session.
func (a *API) firstTimeConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSID       string `json:"ssid"`
		Password   string `json:"password"`
		CustomerID string `json:"customerId"`
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "invalid JSON payload"})
		return
	}
	if err := a.prov.Provision(req.SSID, req.Password, req.CustomerID); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// uploadFirmware stages a new binary and enqueues a restart.
func (a *API) uploadFirmware(w http.ResponseWriter, r *http.Request) {
	if a.updateDir == "" {
		http.Error(w, "Updates not enabled", http.StatusNotImplemented)
		return
	}
	if err := os.MkdirAll(a.updateDir, 0755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dst := filepath.Join(a.updateDir, "aquatrack.next")
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, io.LimitReader(r.Body, maxUploadBytes)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.queue.Add(taskq.ActionRestart); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.appendLog("Firmware staged, restart enqueued")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.User == "" || len(req.Password) < 8 {
		http.Error(w, "User required, password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if err := a.UpdateCredentials(req.User, req.Password); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.appendLog("Admin credentials updated")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) taskList(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.queue.List()
	if err != nil {
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tasks)
}

func (a *API) taskCancel(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if err := a.queue.Cancel(action); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.appendLog("Cancelled task " + action)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) readingList(w http.ResponseWriter, r *http.Request) {
	out := []controller.UsageReading{}
	_ = a.c.Store().List(controller.UsageBucket, func(_ string, v []byte) error {
		var rec controller.UsageReading
		if err := json.Unmarshal(v, &rec); err == nil {
			out = append(out, rec)
		}
		return nil
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (a *API) errorList(w http.ResponseWriter, r *http.Request) {
	var out []controller.ErrorRecord
	_ = a.c.Store().List(controller.ErrorBucket, func(_ string, v []byte) error {
		var rec controller.ErrorRecord
		if err := json.Unmarshal(v, &rec); err == nil {
			out = append(out, rec)
		}
		return nil
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (a *API) logList(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.logs)
}
