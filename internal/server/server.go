package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"offlinewatch/internal/browser"
	"offlinewatch/internal/history"
	"offlinewatch/internal/indicator"
	"offlinewatch/internal/loop"
	"offlinewatch/internal/metrics"
	"offlinewatch/internal/models"
	"offlinewatch/internal/monitor"
	"offlinewatch/internal/storage"
)

const (
	defaultHistoryLimit = 200
	defaultUptimeHours  = 24
	maxUptimeHours      = 24 * 30
	maxTimelinePoints   = 720
	maxRequestBody      = 1 << 16
)

// Deps are the components the HTTP API exposes.
type Deps struct {
	Loop        *loop.Loop
	Detector    *monitor.ConnectivityDetector
	Network     *monitor.NetworkNotifier
	Transitions *storage.TransitionStorage
	// Controller is nil when the offline indicator is disabled.
	Controller  *indicator.Controller
	Application *browser.MemoryApplication
	Activity    *browser.MemoryActivity
	Tab         *browser.MemoryTab
	Hub         *Hub
	Metrics     *metrics.Recorder
	Gatherer    prometheus.Gatherer
}

// Server wraps HTTP serving of the API, the event stream and metrics.
type Server struct {
	httpServer   *http.Server
	loop         *loop.Loop
	detector     *monitor.ConnectivityDetector
	network      *monitor.NetworkNotifier
	transitions  *storage.TransitionStorage
	controller   *indicator.Controller
	app          *browser.MemoryApplication
	activity     *browser.MemoryActivity
	hub          *Hub
	metrics      *metrics.Recorder
	logger       *zap.Logger
	historyLimit int
	now          func() time.Time

	// loop-confined
	tab *browser.MemoryTab

	stopOnce sync.Once
	stopCh   chan struct{}
}

type stateResponse struct {
	State            models.ConnectionState  `json:"state"`
	NetworkConnected bool                    `json:"network_connected"`
	RetryPending     bool                    `json:"retry_pending"`
	LastTransition   *models.StateTransition `json:"last_transition,omitempty"`
	Metrics          *metrics.Snapshot       `json:"metrics,omitempty"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

type indicatorResponse struct {
	Enabled bool                    `json:"enabled"`
	Status  *models.IndicatorStatus `json:"status,omitempty"`
	Active  []string                `json:"active_notifications"`
}

type tabView struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Loading     bool   `json:"loading"`
	ErrorPage   bool   `json:"error_page"`
	OfflinePage bool   `json:"offline_page"`
}

type networkRequest struct {
	Connected *bool `json:"connected"`
}

type appRequest struct {
	State string `json:"state"`
}

type tabRequest struct {
	URL         *string `json:"url"`
	Loading     *bool   `json:"loading"`
	ErrorPage   *bool   `json:"error_page"`
	OfflinePage *bool   `json:"offline_page"`
}

type tabEventRequest struct {
	Event string `json:"event"`
}

// New creates a configured HTTP server.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		loop:         deps.Loop,
		detector:     deps.Detector,
		network:      deps.Network,
		transitions:  deps.Transitions,
		controller:   deps.Controller,
		app:          deps.Application,
		activity:     deps.Activity,
		hub:          deps.Hub,
		metrics:      deps.Metrics,
		logger:       logger.Named("server"),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		tab:          deps.Tab,
		stopCh:       make(chan struct{}),
	}
	s.registerRoutes(mux, deps.Gatherer)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	go s.pushOverview(s.stopCh)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Welcome builds the messages a new event stream client receives.
func (s *Server) Welcome() []Message {
	snapshot := s.buildOverviewSnapshot()
	messages := []Message{{Type: messageOverview, Overview: &snapshot}}
	if latest, ok := s.transitions.Latest(); ok {
		messages = append(messages, Message{Type: messageTransition, Transition: &latest})
	}
	return messages
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/uptime", s.handleUptime)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/overview", s.handleOverview)
	mux.HandleFunc("GET /api/indicator", s.handleIndicator)
	mux.HandleFunc("POST /api/detect", s.handleDetect)
	mux.HandleFunc("POST /api/network", s.handleNetwork)
	mux.HandleFunc("POST /api/app", s.handleApp)
	mux.HandleFunc("POST /api/tab", s.handleTab)
	mux.HandleFunc("POST /api/tab/event", s.handleTabEvent)
	mux.Handle("GET /ws/events", s.hub)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{
		NetworkConnected: s.network.IsConnected(),
		GeneratedAt:      s.now().UTC(),
	}
	err := s.loop.Call(func() {
		resp.State = s.detector.State()
		resp.RetryPending = s.detector.HasScheduledRetry()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if latest, ok := s.detector.Latest(); ok {
		resp.LastTransition = &latest
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	entries := s.transitions.History()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	end := s.now().UTC()
	start := end.Add(-time.Duration(parseHours(r)) * time.Hour)
	writeJSON(w, http.StatusOK, metrics.ComputeStateUptime(s.transitions.History(), start, end))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	end := s.now().UTC()
	start := end.Add(-time.Duration(parseHours(r)) * time.Hour)
	points := parseIntParam(r, "points", history.DefaultTimelinePoints, maxTimelinePoints)
	writeJSON(w, http.StatusOK, history.BuildStateTimeline(s.transitions.History(), start, end, points))
}

func (s *Server) handleIndicator(w http.ResponseWriter, _ *http.Request) {
	resp := indicatorResponse{Active: s.hub.Active()}
	if s.controller == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	var status models.IndicatorStatus
	if err := s.loop.Call(func() { status = s.controller.Status() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp.Enabled = true
	resp.Status = &status
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetect(w http.ResponseWriter, _ *http.Request) {
	if !s.loop.Post(s.detector.Detect) {
		writeError(w, http.StatusServiceUnavailable, loop.ErrStopped)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "detecting"})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Connected == nil {
		writeError(w, http.StatusBadRequest, errors.New("connected is required"))
		return
	}
	s.network.Force(*req.Connected)
	writeJSON(w, http.StatusAccepted, map[string]bool{"connected": *req.Connected})
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := browser.ParseApplicationState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.loop.Call(func() { s.app.SetState(state) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	var req tabRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var view tabView
	err := s.loop.Call(func() {
		if s.tab == nil {
			s.tab = browser.NewTab(browser.AboutBlankURL)
			s.activity.SetActiveTab(s.tab)
		}
		tab := s.tab
		if req.URL != nil {
			tab.SetURL(*req.URL)
		}
		if req.ErrorPage != nil {
			tab.SetErrorPage(*req.ErrorPage)
		}
		if req.OfflinePage != nil {
			tab.SetOfflinePage(*req.OfflinePage)
		}
		if req.Loading != nil {
			if *req.Loading {
				tab.StartLoading()
			} else {
				tab.StopLoading(true)
			}
		}
		view = viewOf(tab)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTabEvent(w http.ResponseWriter, r *http.Request) {
	var req tabEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		found   = true
		unknown bool
	)
	err := s.loop.Call(func() {
		if s.tab == nil {
			found = false
			return
		}
		switch req.Event {
		case "load_stopped":
			s.tab.StopLoading(true)
		case "hidden":
			s.tab.Hide()
		case "destroyed":
			tab := s.tab
			s.tab = nil
			s.activity.SetActiveTab(nil)
			tab.Destroy()
		default:
			unknown = true
		}
	})
	switch {
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	case !found:
		writeError(w, http.StatusNotFound, errors.New("no active tab"))
	case unknown:
		writeError(w, http.StatusBadRequest, errors.New("event must be load_stopped, hidden or destroyed"))
	default:
		writeJSON(w, http.StatusOK, map[string]string{"event": req.Event})
	}
}

func viewOf(tab *browser.MemoryTab) tabView {
	return tabView{
		ID:          tab.ID(),
		URL:         tab.URL(),
		Loading:     tab.IsLoading(),
		ErrorPage:   tab.IsShowingErrorPage(),
		OfflinePage: tab.IsOfflinePage(),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func parseHours(r *http.Request) int {
	return parseIntParam(r, "hours", defaultUptimeHours, maxUptimeHours)
}

func parseLimit(r *http.Request, fallback int) int {
	return parseIntParam(r, "limit", fallback, fallback)
}

// parseIntParam reads a positive integer query parameter capped at max.
func parseIntParam(r *http.Request, key string, fallback, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
