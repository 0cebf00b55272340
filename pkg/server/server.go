package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elonfeng/socialpulse/internal/logging"
	"github.com/elonfeng/socialpulse/internal/pipeline"
	"github.com/elonfeng/socialpulse/internal/store"
	"github.com/elonfeng/socialpulse/pkg/source"
)

const defaultLimit = 100

// Runner runs one collection pass on demand. TryRun reports false when a
// run is already in progress.
type Runner interface {
	TryRun(ctx context.Context, refs []source.Ref) (pipeline.Summary, bool)
}

// Options configures the HTTP API.
type Options struct {
	Store    store.Store
	Runner   Runner
	Refs     []source.Ref
	ChartDir string
	Gatherer prometheus.Gatherer
	Port     int
	Logger   logging.Logger
}

// Server provides the HTTP API.
type Server struct {
	opts Options
	log  logging.Logger
}

// New creates a new HTTP server.
func New(opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{opts: opts, log: logging.OrDiscard(opts.Logger)}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/records", s.handleRecords)
	mux.HandleFunc("GET /api/v1/sources", s.handleSources)
	mux.HandleFunc("POST /api/v1/collect", s.handleCollect)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.ChartDir != "" {
		mux.Handle("GET /charts/", http.StripPrefix("/charts/", http.FileServer(http.Dir(s.opts.ChartDir))))
	}
	return mux
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("socialpulse server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	q := r.URL.Query()
	filter := store.Filter{Source: q.Get("source"), Limit: defaultLimit}
	if p := q.Get("platform"); p != "" {
		platform, err := source.ParsePlatform(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Platform = platform
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	set, err := s.opts.Store.Query(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  set.Records,
		"count": set.Len(),
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}

	counts, err := s.opts.Store.Sources(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	type sourceInfo struct {
		Name    string `json:"name"`
		Records int    `json:"records"`
	}
	infos := make([]sourceInfo, 0, len(counts))
	for name, n := range counts {
		infos = append(infos, sourceInfo{Name: name, Records: n})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runner == nil || len(s.opts.Refs) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no sources configured")
		return
	}
	sum, ok := s.opts.Runner.TryRun(r.Context(), s.opts.Refs)
	if !ok {
		writeError(w, http.StatusConflict, "collection already running")
		return
	}
	for _, line := range sum.Lines() {
		s.log.WithField("run_id", sum.RunID).Info(line)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    sum.RunID,
		"processed": sum.Processed(),
		"stored":    sum.Stored(),
		"failed":    sum.Failed(),
		"charts":    sum.ChartsRendered(),
		"lines":     sum.Lines(),
	})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.log.WithError(err).Warn("store query failed")
	status := http.StatusInternalServerError
	if store.IsUnavailable(err) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
