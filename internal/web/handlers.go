// Package web serves the local dashboard: live axis state over SSE
// and the same commands the hub has, for working on the arm without
// going through the broker.
package web

import (
	"encoding/json"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tvarm/internal/logic/control"
	"tvarm/internal/logging"
)

// maxBodyBytes caps command request bodies. Every API body here is a
// couple of fields; anything bigger is garbage.
const maxBodyBytes = 1 << 20

// Controller is the slice of the arm's command surface the dashboard
// drives. *control.Manager satisfies it.
type Controller interface {
	Axes() []string
	SnapshotAll() []control.Snapshot
	Subscribe() (<-chan control.Snapshot, func())
	SetTarget(axis string, percent float64) error
	SetAll(percent float64) error
	Calibrate(axis string) error
	CalibrateAll() error
	StopAll() error
	EmergencyStop() error
	ClearAllFaults() error
}

// TargetRequest is the POST /api/target body. An empty axis addresses
// every axis at once.
type TargetRequest struct {
	Axis    string  `json:"axis,omitempty"`
	Percent float64 `json:"percent"`
}

// CalibrateRequest is the POST /api/calibrate body. Empty or "all"
// calibrates every axis.
type CalibrateRequest struct {
	Axis string `json:"axis,omitempty"`
}

// ValidateTarget checks a requested position before it reaches the
// controller.
func ValidateTarget(percent float64) error {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return errors.New("percent must be a finite number")
	}
	if percent < 0 || percent > 100 {
		return errors.Errorf("percent must be between 0 and 100, got %v", percent)
	}
	return nil
}

// Handlers bundles the HTTP endpoints and what they need.
type Handlers struct {
	ctrl     Controller
	log      logging.Logger
	staticFS fs.FS
}

// NewHandlers wires the endpoints to a controller.
func NewHandlers(ctrl Controller, staticFS fs.FS, log logging.Logger) *Handlers {
	return &Handlers{
		ctrl:     ctrl,
		log:      log,
		staticFS: staticFS,
	}
}

// HandleStatus returns every axis snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"axes": h.ctrl.SnapshotAll(),
	})
}

// ServeIndex answers the root path with the dashboard page.
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleTarget handles POST /api/target to command a position.
func (h *Handlers) HandleTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateTarget(req.Percent); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Axis == "" {
		err = h.ctrl.SetAll(req.Percent)
	} else {
		err = h.ctrl.SetTarget(req.Axis, req.Percent)
	}
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	accepted(w)
}

// HandleCalibrate handles POST /api/calibrate to start a calibration
// run.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var err error
	if req.Axis == "" || req.Axis == "all" {
		err = h.ctrl.CalibrateAll()
	} else {
		err = h.ctrl.Calibrate(req.Axis)
	}
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	accepted(w)
}

// HandleStop handles POST /api/stop: a cooperative stand-down of
// every axis.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.StopAll(); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	accepted(w)
}

// HandleEmergencyStop handles POST /api/estop. Unlike the other
// commands this one completes synchronously: when it returns, every
// drive has been told to stop.
func (h *Handlers) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.log.Warnw("emergency stop requested over http", "remote", r.RemoteAddr)
	if err := h.ctrl.EmergencyStop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

// HandleClearFaults handles POST /api/clear_faults.
func (h *Handlers) HandleClearFaults(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.ClearAllFaults(); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}

// HandleEvents handles GET /events for SSE. Every published axis
// snapshot becomes one event, so the page tracks motion live.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable proxy buffering

	ch, unsub := h.ctrl.Subscribe()
	defer unsub()

	// Send the full current state first so the page does not have to
	// wait for the next transition.
	for _, snap := range h.ctrl.SnapshotAll() {
		h.writeEvent(w, snap)
	}
	flusher.Flush()

	// Keepalive comments so proxies do not cut an idle stream.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.writeEvent(w, snap)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) writeEvent(w http.ResponseWriter, snap control.Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(body)
	w.Write([]byte("\n\n"))
}

func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, control.ErrUnknownAxis):
		return http.StatusNotFound
	case errors.Is(err, control.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrBusyCalibrating),
		errors.Is(err, control.ErrNotCalibrated):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
