package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"borderwatch/internal/alerts"
	"borderwatch/internal/config"
	"borderwatch/internal/detect"
	"borderwatch/internal/model"
	"borderwatch/internal/storage"
)

// EngineControl is the slice of the detection engine the API operates:
// acknowledging incidents and reading loop counters.
type EngineControl interface {
	Unlock()
	Stats() (cycles, skipped int64, state detect.State)
}

// ReportRunner runs the operator report/enroll workflows.
type ReportRunner interface {
	ReportIntruder(ctx context.Context, recordID string) error
	Enroll(ctx context.Context, title, description string, images [][]byte, recordID string) error
}

type Server struct {
	cfg      *config.Manager
	engine   EngineControl
	matchers detect.MatcherProvider
	alerts   *alerts.Store
	store    storage.Store
	reporter ReportRunner
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status        string `json:"status"`
	Time          string `json:"time"`
	Version       string `json:"version"`
	DebounceState string `json:"debounce_state"`
	Cycles        int64  `json:"cycles"`
	SkippedTicks  int64  `json:"skipped_ticks"`
	RosterReady   bool   `json:"roster_ready"`
	Identities    int    `json:"identities"`
}

func Start(ctx context.Context, cfg *config.Manager, engine EngineControl, matchers detect.MatcherProvider,
	alertsStore *alerts.Store, store storage.Store, reporter ReportRunner, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		engine:   engine,
		matchers: matchers,
		alerts:   alertsStore,
		store:    store,
		reporter: reporter,
		logger:   logger,
		version:  version,
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.routes()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

// NewHandler builds the route table without binding a listener.
func NewHandler(cfg *config.Manager, engine EngineControl, matchers detect.MatcherProvider,
	alertsStore *alerts.Store, store storage.Store, reporter ReportRunner, logger *slog.Logger, version string) http.Handler {
	server := &Server{
		cfg:      cfg,
		engine:   engine,
		matchers: matchers,
		alerts:   alertsStore,
		store:    store,
		reporter: reporter,
		logger:   logger,
		version:  version,
	}
	return server.routes()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/records/", s.handleRecord)
	mux.HandleFunc("/unlock", s.handleUnlock)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/enroll", s.handleEnroll)
	mux.HandleFunc("/admin/reload", s.handleReload)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cycles, skipped, state := s.engine.Stats()
	resp := statusResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Version:       s.version,
		DebounceState: string(state),
		Cycles:        cycles,
		SkippedTicks:  skipped,
	}
	if m := s.matchers.Current(); m != nil {
		resp.RosterReady = true
		resp.Identities = m.Identities()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.AlertEvent
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	records, err := s.store.ListRecords(r.Context(), limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// handleRecord serves GET /records/{id} and POST /records/{id}/status.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/records/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		rec, err := s.store.GetRecord(r.Context(), id)
		if err == storage.ErrNotFound {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case action == "status" && r.Method == http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := model.RecordStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		switch status {
		case model.StatusUnverified, model.StatusVerified, model.StatusRejected:
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.UpdateStatus(r.Context(), id, status); err != nil {
			if err == storage.ErrNotFound {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleUnlock acknowledges the active incident and re-arms alerting.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.engine.Unlock()
	if s.logger != nil {
		s.logger.Info("incident acknowledged, alerting unlocked")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		RecordID string `json:"record_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.RecordID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.reporter.ReportIntruder(r.Context(), req.RecordID); err != nil {
		if s.logger != nil {
			s.logger.Warn("report failed", "record_id", req.RecordID, "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Images      []string `json:"images"`
		RecordID    string   `json:"record_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	images := make([][]byte, 0, len(req.Images))
	for _, enc := range req.Images {
		img, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		images = append(images, img)
	}
	if err := s.reporter.Enroll(r.Context(), req.Title, req.Description, images, req.RecordID); err != nil {
		if s.logger != nil {
			s.logger.Warn("enroll failed", "title", req.Title, "err", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReload re-reads the config file. Only the sections read per
// request (api responses, alert limits) take effect without a restart;
// the loop interval and connection DSNs are bound at startup.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg, err := s.cfg.Reload()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("config reload failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if s.logger != nil {
		s.logger.Info("config reloaded", "path", s.cfg.Path())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"log_level": cfg.LogLevel,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
