package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// Handler returns the HTTP handler serving all routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /ns", "list", s.handleListNamespaces)
	s.handle(mux, "GET /ns/{ns}", "scan", s.handleScan)
	s.handle(mux, "GET /ns/{ns}/{key...}", "get", s.handleGet)
	s.handle(mux, "PUT /ns/{ns}/{key...}", "set", s.handleSet)
	s.handle(mux, "DELETE /ns/{ns}/{key...}", "delete", s.handleDelete)
	s.handle(mux, "GET /info/{ns}", "info", s.handleInfo)
	s.handle(mux, "GET /metrics", "metrics", s.handleMetrics)

	return mux
}

// handle registers fn for pattern, counting every request by route and
// status code. With log level debug every request is logged.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, fn http.HandlerFunc) {
	next := fn
	if s.config.LogLevel == "debug" {
		next = loggerMiddleware(next)
	}

	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.metrics.GetOrCreateCounter(
			fmt.Sprintf(`rbkv_http_requests_total{route=%q,code="%d"}`, route, rw.statusCode),
		).Inc()
	})
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Server) handleListNamespaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Namespaces())
}

// scanEntry is one element of the scan response, values are base64 encoded
type scanEntry struct {
	Digest string `json:"digest"`
	Value  []byte `json:"value"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}

	entries := make([]scanEntry, 0)
	err := st.Scan(func(key digest.Digest, value []byte) bool {
		entries = append(entries, scanEntry{Digest: key.String(), Value: value})
		return true
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}

	value, found, err := st.Get(r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	if _, err := w.Write(value); err != nil {
		Logger.Debugf("writing value failed: %v", err)
	}
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	st, err := s.namespace(r.PathValue("ns"), true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ifUnset := false
	if raw := r.URL.Query().Get("ifunset"); raw != "" {
		if ifUnset, err = strconv.ParseBool(raw); err != nil {
			http.Error(w, "invalid value for ifunset", http.StatusBadRequest)
			return
		}
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
		}
		return
	}

	key := r.PathValue("key")
	if !ifUnset {
		if err := st.Set(key, value); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	stored, err := st.SetIfUnset(key, value)
	switch {
	case err != nil:
		writeError(w, err)
	case !stored:
		http.Error(w, "key already exists", http.StatusConflict)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if err := st.Delete(r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}

	info, err := st.GetDBInfo()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

// handleMetrics writes the server metrics, the metrics of every namespace
// and the process metrics in Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	s.metrics.WritePrometheus(w)
	for _, name := range s.Namespaces() {
		st, _ := s.namespaces.Load(name)
		if p, ok := st.(interface{ WritePrometheus(io.Writer) }); ok {
			p.WritePrometheus(w)
		}
	}
	metrics.WritePrometheus(w, true)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// lookup returns the existing namespace named in the path, or writes 400 for
// an invalid and 404 for an unknown name
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (store.IStore, bool) {
	st, err := s.namespace(r.PathValue("ns"), false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if st == nil {
		http.Error(w, "namespace not found", http.StatusNotFound)
		return nil, false
	}
	return st, true
}

// statusOf maps the return code of a store error to a HTTP status code
func statusOf(err error) int {
	switch store.CodeOf(err) {
	case store.RetCSuccess:
		return http.StatusOK
	case store.RetCNotFound:
		return http.StatusNotFound
	case store.RetCUnsupportedOperation:
		return http.StatusNotImplemented
	case store.RetCInvalidOperation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusOf(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warningf("encoding response failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
