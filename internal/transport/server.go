// Package transport serves the datasink service over HTTP with JSON bodies.
//
// Routes:
//
//	POST /rpc/{Method}    → unary call, JSON request and response
//	POST /rpc/Query       → NDJSON stream of query elements
//	GET  /healthz         → liveness
//	GET  /metrics         → Prometheus exposition, when configured
//
// Business failures travel inside the response acknowledgement with status
// 200. Non-2xx statuses are reserved for malformed requests (400) and
// connectivity failures (503, 504).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/service"
)

const (
	RequestIDHeader = "X-Request-Id"
	ndjsonType      = "application/x-ndjson"
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 32 << 20
)

// Config controls the server.
type Config struct {
	// RequestTimeout bounds unary calls. Query streams are not bounded.
	RequestTimeout time.Duration
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// Server routes HTTP requests to a service.
type Server struct {
	svc    *service.Service
	cfg    Config
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer constructs a Server with its routes.
func NewServer(svc *service.Service, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, cfg: cfg, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("POST /rpc/CreateTable", unary(s, "CreateTable", s.svc.CreateTable))
	s.mux.Handle("POST /rpc/DropTable", unary(s, "DropTable", s.svc.DropTable))
	s.mux.Handle("POST /rpc/Insert", unary(s, "Insert", s.svc.Insert))
	s.mux.Handle("POST /rpc/Update", unary(s, "Update", s.svc.Update))
	s.mux.Handle("POST /rpc/Delete", unary(s, "Delete", s.svc.Delete))
	s.mux.Handle("POST /rpc/BatchInsert", unary(s, "BatchInsert", s.svc.BatchInsert))
	s.mux.Handle("POST /rpc/AddDatabase", unary(s, "AddDatabase", s.svc.AddDatabase))
	s.mux.Handle("POST /rpc/GetServerStatus", unary(s, "GetServerStatus",
		func(ctx context.Context, _ *struct{}) (*service.ServerStatusResponse, error) {
			return s.svc.GetServerStatus(ctx)
		}))
	s.mux.HandleFunc("POST /rpc/Query", s.handleQuery)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics)
	}
}

// Handler returns the routed handler with request ids and access logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		s.mux.ServeHTTP(rec, r)
		s.logger.Info("request",
			"request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

func unary[Req, Resp any](s *Server, method string, call func(context.Context, *Req) (*Resp, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, dberr.InvalidRequest.String(), err.Error())
			return
		}

		ctx := r.Context()
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}

		resp, err := call(ctx, &req)
		if err != nil {
			s.logger.Warn("call failed", "method", method, "error", err)
			status, code := transportStatus(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// streamElement is one NDJSON line of a Query response. A complete stream
// ends with either an error element or {"done":true}; a client that reaches
// EOF without one of them saw a truncated stream.
type streamElement struct {
	service.QueryResponse
	Done bool `json:"done,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, dberr.InvalidRequest.String(), err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	wroteHeader := false
	send := func(elem streamElement) error {
		if !wroteHeader {
			w.Header().Set("Content-Type", ndjsonType)
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		if err := enc.Encode(elem); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := s.svc.Query(r.Context(), &req, func(resp *service.QueryResponse) error {
		return send(streamElement{QueryResponse: *resp})
	})
	if err == nil {
		if err = send(streamElement{Done: true}); err == nil {
			return
		}
	}
	if wroteHeader {
		s.logger.Warn("query stream aborted", "error", err)
		return
	}
	status, code := transportStatus(err)
	writeError(w, status, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func transportStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELLED"
	case dberr.Is(err, dberr.BackendUnavailable):
		return http.StatusServiceUnavailable, dberr.BackendUnavailable.String()
	}
	return http.StatusInternalServerError, dberr.KindOf(err).String()
}

// errorBody is the body of every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
