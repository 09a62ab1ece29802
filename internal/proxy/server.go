package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/n0madic/go-mmgateway/internal/config"
	"github.com/n0madic/go-mmgateway/internal/metrics"
	"github.com/n0madic/go-mmgateway/internal/normalize"
	"github.com/n0madic/go-mmgateway/internal/types"
	"github.com/n0madic/go-mmgateway/internal/upstream"
)

// Provider performs one call to the generative-AI provider.
type Provider interface {
	Do(context.Context, types.NormalizedRequest) upstream.Result
}

// ImageSearcher resolves a query to a single image URL.
type ImageSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// HistoryStore records and lists chat interactions.
type HistoryStore interface {
	Append(userMessage, aiResponse string)
	ReadAll(ctx context.Context) ([]types.HistoryEntry, error)
}

// Deps are the collaborators a Server routes requests to.
type Deps struct {
	Provider    Provider
	ImageSearch ImageSearcher
	History     HistoryStore
	Metrics     *metrics.Collector
}

// Server is the gateway HTTP server.
type Server struct {
	Config *config.ServerConfig

	httpServer  *http.Server
	router      chi.Router
	provider    Provider
	imageSearch ImageSearcher
	history     HistoryStore
	metrics     *metrics.Collector
	normalizer  *normalize.Normalizer

	debugDumpMu sync.Mutex
	dumpTo      io.Writer
}

// New creates the gateway server with all routes registered.
func New(cfg *config.ServerConfig, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector("mmgateway")
	}
	s := &Server{
		Config:      cfg,
		provider:    deps.Provider,
		imageSearch: deps.ImageSearch,
		history:     deps.History,
		metrics:     deps.Metrics,
		normalizer:  normalize.New(cfg.Capabilities),
		dumpTo:      os.Stderr,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.verboseMiddleware)
	r.Use(s.debugMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/chat", s.handleChat)
	r.Post("/chat/pdf", s.handlePDF)
	r.Post("/chat/vision", s.handleVision)
	r.Post("/chat/document", s.handleDocument)
	r.Get("/chat/history", s.handleHistory)
	r.Post("/tts", s.handleSpeech)
	r.Post("/image/generate", s.handleImageGenerate)
	r.Get("/image/search", s.handleImageSearch)

	s.router = r
	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
		// Uploads are read in full before the provider is called.
		ReadTimeout: 60 * time.Second,
		// Provider calls have no timeout of their own; this bounds the whole exchange.
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	slog.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
