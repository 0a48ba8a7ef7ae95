package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.io/infrasutra/mailmcp/internal/apperr"
	"github.io/infrasutra/mailmcp/internal/dispatch"
	"github.io/infrasutra/mailmcp/internal/metrics"
	"github.io/infrasutra/mailmcp/internal/pagination"
	"github.io/infrasutra/mailmcp/internal/sse"
)

const streamPingInterval = 20 * time.Second

type Options struct {
	// MCP serves /mcp. The route is omitted when nil.
	MCP      http.Handler
	Hub      *sse.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	svc     *dispatch.Service
	hub     *sse.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  chi.Router
}

func NewServer(svc *dispatch.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = sse.NewHub()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	server := &Server{
		svc:     svc,
		hub:     hub,
		metrics: opts.Metrics,
		logger:  logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(server.observe)

	r.Get("/health", server.handleHealth)
	r.Get("/ready", server.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stream", server.handleStream)
		r.Get("/recipients", server.handleRecipients)
		r.Get("/groups", server.handleGroups)
		r.Get("/templates", server.handleTemplates)
		r.Get("/history", server.handleHistory)
	})

	server.router = r
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe logs and counts every request under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		took := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, took)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", took,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("store not ready", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

// handleStream relays dispatch notifications. With ?email= only messages
// sent from or to that address are relayed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(email)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromQuery(r.URL.Query())
	page, err := s.svc.ListRecipients(r.Context(), dispatch.ListRecipientsRequest{
		GroupName: r.URL.Query().Get("group"),
		Page:      p.Page,
		Limit:     p.Limit,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromQuery(r.URL.Query())
	page, err := s.svc.ListGroups(r.Context(), dispatch.PageRequest{Page: p.Page, Limit: p.Limit})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	p := pagination.FromQuery(r.URL.Query())
	page, err := s.svc.ListTemplates(r.Context(), dispatch.PageRequest{Page: p.Page, Limit: p.Limit})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.svc.GetEmailRecords(r.Context(), dispatch.EmailHistoryRequest{
		RecipientEmail: q.Get("recipient_email"),
		StartDate:      q.Get("start_date"),
		EndDate:        q.Get("end_date"),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(apperr.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
