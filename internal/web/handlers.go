package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/LensGo/internal/debug"
	"github.com/cjeanneret/LensGo/internal/hw/camera"
	"github.com/cjeanneret/LensGo/internal/logic/catalog"
	"github.com/cjeanneret/LensGo/internal/logic/state"
)

// Controller is the slice of the session controller the handlers need.
type Controller interface {
	Start()
	Stop()
	CapturePhoto() (string, error)
	SwitchLens(l catalog.Lens) error
	SwitchPosition() error
	SetExposureBias(bias float64) error
	AdjustExposureBias(delta float64) error
	FocusAt(x, y float64) error
	Lenses() []catalog.Lens
}

// LensRequest selects a lens by its zoom factor, as shown in the catalog.
type LensRequest struct {
	Zoom float64 `json:"zoom"`
}

// ExposureRequest carries either an absolute bias or a delta, never both.
type ExposureRequest struct {
	Bias  *float64 `json:"bias,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
}

// FocusRequest is a point of interest in normalized coordinates.
type FocusRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ValidateExposure checks that exactly one of bias/delta is present and finite.
func ValidateExposure(req ExposureRequest) error {
	if (req.Bias == nil) == (req.Delta == nil) {
		return fmt.Errorf("exactly one of bias or delta is required")
	}
	v := req.Bias
	if v == nil {
		v = req.Delta
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("value must be finite")
	}
	return nil
}

// ValidateFocus checks that the point is finite. Coordinates outside [0,1]
// are accepted here and clamped by the controller.
func ValidateFocus(req FocusRequest) error {
	for _, v := range []float64{req.X, req.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("coordinates must be finite")
		}
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Publisher   *state.Publisher
	Controller  Controller
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If ctrl is nil, the control endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, pub *state.Publisher, ctrl Controller, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Publisher:   pub,
		Controller:  ctrl,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The rig serves a single trusted LAN, same as the rest of
			// the control surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current published snapshot as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Publisher.Snapshot())
}

// HandleLenses returns the available lens catalog as JSON.
func (h *Handlers) HandleLenses(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	lenses := h.Controller.Lenses()
	if lenses == nil {
		lenses = []catalog.Lens{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lenses)
}

// HandleStart handles POST /session/start. Starting is asynchronous; the
// published snapshot reports the transition.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	h.Controller.Start()
	respondAccepted(w, map[string]string{"status": "starting"})
}

// HandleStop handles POST /session/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	h.Controller.Stop()
	respondAccepted(w, map[string]string{"status": "stopping"})
}

// HandleCapture handles POST /capture. The response carries the request id;
// deliveries land in the published snapshot and the photo library later.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := h.Controller.CapturePhoto()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	respondAccepted(w, map[string]string{"status": "capturing", "id": id})
}

// HandleLens handles POST /lens to select a lens by zoom factor.
func (h *Handlers) HandleLens(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	var req LensRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	for _, l := range h.Controller.Lenses() {
		if l.Zoom == req.Zoom {
			if err := h.Controller.SwitchLens(l); err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
			respondOK(w, map[string]string{"lens": l.Label})
			return
		}
	}
	http.Error(w, "no lens with that zoom factor", http.StatusNotFound)
}

// HandlePosition handles POST /position to flip between back and front.
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.Controller.SwitchPosition(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	respondOK(w, map[string]string{"position": h.Publisher.Snapshot().Position})
}

// HandleExposure handles POST /exposure with either {"bias":v} or {"delta":v}.
func (h *Handlers) HandleExposure(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	var req ExposureRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if err := ValidateExposure(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var err error
	if req.Bias != nil {
		err = h.Controller.SetExposureBias(*req.Bias)
	} else {
		err = h.Controller.AdjustExposureBias(*req.Delta)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	respondOK(w, h.Publisher.Snapshot().Exposure)
}

// HandleFocus handles POST /focus with a normalized point of interest.
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "controller not configured", http.StatusServiceUnavailable)
		return
	}
	var req FocusRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if err := ValidateFocus(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.FocusAt(req.X, req.Y); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	respondOK(w, map[string]string{"status": "ok"})
}

// HandleStateStream handles GET /state/stream: the published snapshot as SSE,
// starting with the current state.
func (h *Handlers) HandleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	ch, unsub := h.Publisher.Subscribe()
	defer unsub()

	writeSSESnapshot(w, h.Publisher.Snapshot())
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			writeSSESnapshot(w, snap)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream: the log feed as SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Initial comment establishes the connection.
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandlePreviewSocket handles GET /ws/preview: pushes each new preview frame
// as a binary JPEG message over a websocket.
func (h *Handlers) HandlePreviewSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error(fmt.Errorf("preview socket upgrade: %w", err))
		return
	}
	defer conn.Close()

	// Read pump: all we need from the client is its close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch, unsub := h.Publisher.Subscribe()
	defer unsub()

	var lastSeq uint64
	push := func(snap state.Snapshot) bool {
		pv := snap.Preview
		if pv == nil || pv.Seq == lastSeq || len(pv.JPEG) == 0 {
			return true
		}
		lastSeq = pv.Seq
		return conn.WriteMessage(websocket.BinaryMessage, pv.JPEG) == nil
	}

	if !push(h.Publisher.Snapshot()) {
		return
	}
	for {
		select {
		case snap, ok := <-ch:
			if !ok || !push(snap) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrInputRejected), errors.Is(err, camera.ErrDeviceLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return err
	}
	return nil
}

func respondOK(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func respondAccepted(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(body)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
}

func writeSSESnapshot(w http.ResponseWriter, snap state.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	w.Write([]byte("data: " + string(data) + "\n\n"))
}
