// Package wsstream serves offerings over HTTP: capabilities as JSON and
// observation streams over websocket connections.
package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/ports"
)

const (
	writeTimeout = 10 * time.Second
	closeGrace   = time.Second
)

// Offerings is the offering lookup the handler serves from.
type Offerings interface {
	Get(id string) (ports.ProviderFactory, error)
	NewProvider(offeringID string, filter domain.DataFilter) (ports.DataProvider, error)
	Capabilities() []ports.Capabilities
}

// Frame is one websocket text message.
type Frame struct {
	Type        string              `json:"type"`
	Observation *domain.Observation `json:"observation,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Frame types.
const (
	FrameObservation = "observation"
	FrameError       = "error"
)

type Handler struct {
	offerings Offerings
	obs       ports.Observability
	upgrader  websocket.Upgrader
}

func NewHandler(offerings Offerings, obs ports.Observability) *Handler {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Handler{
		offerings: offerings,
		obs:       obs,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Register mounts the stream endpoint at wsPath and the capabilities
// endpoints under /capabilities.
func (h *Handler) Register(mux *http.ServeMux, wsPath string) {
	mux.HandleFunc("GET "+wsPath, h.serveStream)
	mux.HandleFunc("GET /capabilities", h.serveCapabilities)
	mux.HandleFunc("GET /capabilities/{id}", h.serveOffering)
}

func (h *Handler) serveCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.offerings.Capabilities())
}

func (h *Handler) serveOffering(w http.ResponseWriter, r *http.Request) {
	f, err := h.offerings.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	caps, err := f.GenerateCapabilities()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// serveStream opens a provider from the query and pushes its observations
// until the provider ends, fails or the client goes away. Provider errors
// raised before the upgrade are answered with a plain HTTP status.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offering := q.Get("offering")
	if offering == "" {
		writeError(w, fmt.Errorf("offering parameter is required: %w", domain.ErrInvalid))
		return
	}
	filter, err := ParseFilter(q)
	if err != nil {
		writeError(w, err)
		return
	}
	prov, err := h.offerings.NewProvider(offering, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	defer prov.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogError("ws_upgrade_failed", err, ports.F("offering", offering))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// control frames only; any read error means the client is gone
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.obs.LogInfo("ws_stream_opened", ports.F("offering", offering), ports.F("remote", r.RemoteAddr))
	code, reason := h.pump(ctx, conn, prov)
	deadline := time.Now().Add(closeGrace)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	h.obs.LogInfo("ws_stream_closed", ports.F("offering", offering), ports.F("code", code))
}

func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, prov ports.DataProvider) (int, string) {
	for {
		o, err := prov.NextObservation(ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrEndOfStream):
			return websocket.CloseNormalClosure, ""
		case ctx.Err() != nil:
			return websocket.CloseGoingAway, ""
		default:
			h.obs.LogError("ws_stream_failed", err)
			_ = writeFrame(conn, Frame{Type: FrameError, Error: err.Error()})
			return websocket.CloseInternalServerErr, "provider error"
		}
		if err := writeFrame(conn, Frame{Type: FrameObservation, Observation: o}); err != nil {
			return websocket.CloseGoingAway, ""
		}
	}
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ParseFilter reads a data filter from query parameters:
//
//	types, observables, producers, fois   comma separated lists
//	begin, end                            "now", RFC 3339 or epoch seconds
//	max                                   record count limit
//	speed                                 replay speed factor
//
// A begin without an end leaves the extent open ("from now" when begin is
// "now"); no bounds at all selects every time.
func ParseFilter(q map[string][]string) (domain.DataFilter, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	f := domain.DataFilter{
		RecordTypes: splitList(get("types")),
		Observables: splitList(get("observables")),
		ProducerIDs: splitList(get("producers")),
		FoiIDs:      splitList(get("fois")),
	}

	begin, end := get("begin"), get("end")
	if begin != "" || end != "" {
		f.Time = domain.AllTimes()
		if begin != "" {
			t, now, err := parseInstant(begin)
			if err != nil {
				return f, fmt.Errorf("begin: %w", err)
			}
			f.Time.Begin, f.Time.BeginNow = t, now
		}
		if end != "" {
			t, now, err := parseInstant(end)
			if err != nil {
				return f, fmt.Errorf("end: %w", err)
			}
			f.Time.End, f.Time.EndNow = t, now
		}
		if f.Time.BeginNow && f.Time.EndNow {
			f.Time = domain.NowInstant()
		}
		if !f.Time.BeginNow && !f.Time.EndNow && f.Time.Begin > f.Time.End {
			return f, fmt.Errorf("begin after end: %w", domain.ErrInvalid)
		}
	}

	if v := get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("max %q: %w", v, domain.ErrInvalid)
		}
		f.MaxCount = n
	}
	if v := get("speed"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil || s < 0 || math.IsInf(s, 0) || math.IsNaN(s) {
			return f, fmt.Errorf("speed %q: %w", v, domain.ErrInvalid)
		}
		f.ReplaySpeed = s
	}
	return f, nil
}

func parseInstant(v string) (float64, bool, error) {
	if v == "now" {
		return 0, true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return domain.Seconds(t), false, nil
	}
	s, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(s) {
		return 0, false, fmt.Errorf("invalid instant %q: %w", v, domain.ErrInvalid)
	}
	return s, false, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), Frame{Type: FrameError, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
