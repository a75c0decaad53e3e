package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mediapub/internal/api"
	"mediapub/internal/deps"
	"mediapub/internal/failure"
	"mediapub/internal/logging"
	"mediapub/internal/store"
	"mediapub/internal/supervisor"
)

// httpServer serves Prometheus metrics and a read-only JSON view of the
// daemon on metrics.bind.
type httpServer struct {
	bind   string
	logger *zap.Logger
	daemon *Daemon

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

func newHTTPServer(bind string, d *Daemon, logger *zap.Logger) *httpServer {
	srv := &httpServer{
		bind:   bind,
		logger: logging.Component(logger, "http"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.promRegistry, promhttp.HandlerOpts{
		ErrorLog:          zap.NewStdLog(srv.logger),
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/packages", srv.handlePackages)
	mux.HandleFunc("GET /api/packages/{id}", srv.handlePackage)
	srv.handler = mux
	return srv
}

func (s *httpServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.listener = listener
	server := &http.Server{
		Handler:           s.handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("address", listener.Addr().String()))
	return nil
}

func (s *httpServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.server = nil
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound address, useful when bind used port 0.
func (s *httpServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.auth.Check(CapWatcherStatus); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusPayload(s.daemon.Status(r.Context())))
}

func (s *httpServer) handlePackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{
		Platform: query.Get("platform"),
		Search:   query.Get("q"),
	}
	for _, raw := range query["state"] {
		for _, name := range strings.Split(raw, ",") {
			state, ok := store.ParseState(name)
			if !ok {
				s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown state %q", name)})
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	pkgs, err := s.daemon.ListPackages(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := api.FromPackages(pkgs)
	if items == nil {
		items = []api.Package{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"packages": items})
}

func (s *httpServer) handlePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.daemon.DescribePackage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"package": api.FromPackage(pkg)})
}

func (s *httpServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case failure.CodeOf(err, failure.CodeNone) == failure.CodePackageNotFound:
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *httpServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// StatusPayload converts a daemon status into its API representation.
func StatusPayload(status Status) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		MetricsBind:  status.MetricsBind,
		Platforms:    append([]string{}, status.Platforms...),
		Watcher:      WatcherPayload(status.Watcher),
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: dependencyPayload(status.Dependencies),
	}
}

func dependencyPayload(statuses []deps.Status) []api.Dependency {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]api.Dependency, len(statuses))
	for i, s := range statuses {
		out[i] = api.Dependency{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		}
	}
	return out
}

// WatcherPayload converts a supervisor snapshot into its API representation.
func WatcherPayload(snap supervisor.Snapshot) api.WatcherStatus {
	return api.WatcherStatus{
		Status:     snap.Status.String(),
		StatusCode: int(snap.Status),
		PID:        snap.PID,
		Restarts:   snap.Restarts,
		LastError:  snap.LastError,
	}
}
