// Package server exposes the import pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"attendance-import/internal/config"
	"attendance-import/internal/importer"
	"attendance-import/internal/logging"
	"attendance-import/internal/metrics"
	"attendance-import/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

const (
	// UploadField is the multipart field carrying the spreadsheet.
	UploadField = "file"
	// ImportIDHeader carries the id of the import a response belongs to.
	ImportIDHeader = "X-Import-ID"

	routeImports = "/api/imports"
	routeHealth  = "/healthz"

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Importer runs one upload.
type Importer interface {
	Import(ctx context.Context, upload importer.Upload) (*report.Report, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes upload, health and metrics requests.
type Server struct {
	importer Importer
	health   Pinger
	metrics  *metrics.Manager
	cfg      config.ServerConfig

	router chi.Router
}

// New builds the router. m may be nil to disable the metrics endpoint and
// request counting.
func New(imp Importer, health Pinger, m *metrics.Manager, cfg *config.Config) *Server {
	s := &Server{importer: imp, health: health, metrics: m, cfg: cfg.Server}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders: []string{ImportIDHeader},
		MaxAge:         300,
	}).Handler)

	// Imports are not bounded by the request timeout: once started they run
	// to completion, and each chunk transaction has its own tx_timeout.
	r.Post(routeImports, s.handleImport)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Get(routeHealth, s.handleHealth)
		if m != nil && cfg.Metrics.IsEnabled() {
			r.Method(http.MethodGet, cfg.Metrics.Path, m.Handler())
		}
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logf(logging.Info, "HTTP server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Logf(logging.Info, "Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	logging.Logf(logging.Info, "HTTP server stopped")
	return nil
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	upload, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusBadRequest, report.Response{
				Message: fmt.Sprintf("The upload exceeds the %d MB limit.", s.cfg.MaxUploadMB),
			})
		case errors.Is(err, errNoFile):
			writeJSON(w, http.StatusBadRequest, report.Response{
				Message: fmt.Sprintf("No file was uploaded. Send the spreadsheet in the '%s' field.", UploadField),
			})
		default:
			logging.Logf(logging.Warning, "Rejecting malformed upload: %v", err)
			writeJSON(w, http.StatusBadRequest, report.Response{Message: "Malformed multipart upload."})
		}
		return
	}

	// A client that disconnects mid-import does not stop the pipeline.
	rep, err := s.importer.Import(context.WithoutCancel(r.Context()), upload)
	if err != nil {
		var fault *importer.FaultError
		if errors.As(err, &fault) {
			w.Header().Set(ImportIDHeader, fault.ImportID)
		}
		logging.Logf(logging.Error, "Import of '%s' failed: %v", upload.Filename, err)
		writeJSON(w, http.StatusInternalServerError, report.FaultResponse())
		return
	}

	w.Header().Set(ImportIDHeader, rep.ImportID)
	writeJSON(w, rep.HTTPStatus(), rep.Response())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			logging.Logf(logging.Warning, "Health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errNoFile = errors.New("no file part")

// readUpload streams the multipart body and returns the first part named
// UploadField. Other parts are skipped.
func readUpload(r *http.Request) (importer.Upload, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return importer.Upload{}, err
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return importer.Upload{}, errNoFile
		}
		if err != nil {
			return importer.Upload{}, err
		}
		if part.FormName() != UploadField {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return importer.Upload{}, err
		}
		return importer.Upload{Filename: part.FileName(), Data: data}, nil
	}
}

// observe logs every request and counts it by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, r.Method, status)
		}
		logging.WithFields(logging.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"remote":     r.RemoteAddr,
		}).Logf(logging.Info, "%s %s -> %d (%d bytes, %s)", r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Logf(logging.Warning, "Error encoding JSON response: %v", err)
		}
	}
}
