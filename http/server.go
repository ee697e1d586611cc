// Package http serves the CKD risk pages, the JSON API and the prediction feed.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"ckdrisk/db"
	"ckdrisk/monitoring"
	"ckdrisk/predict"
)

// Server serves the CKD pages and API.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig holds the listener and middleware settings.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig returns the settings used when none are configured.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
}

// HistoryReader lists stored predictions, newest first.
type HistoryReader interface {
	RecentPredictions(ctx context.Context, variant string, limit int) ([]db.Prediction, error)
	CountByVariant(ctx context.Context) (map[string]int, error)
}

// Assets locates the decorative images.
type Assets struct {
	ImageDir    string
	HeaderImage string
	HomeImage   string
}

// Deps are the collaborators the handlers call into. Predictor is required; the rest
// may be nil.
type Deps struct {
	Predictor *predict.Service
	History   HistoryReader
	Metrics   *monitoring.Metrics
	Hub       *monitoring.Hub
	Logger    *zap.Logger
	Assets    Assets
	Language  language.Tag
}

// NewServer builds the handler chain and the http.Server.
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	handler, err := NewHandler(config, deps)
	if err != nil {
		return nil, err
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}, nil
}

// NewHandler builds the routed handler wrapped in the middleware chain.
func NewHandler(config ServerConfig, deps Deps) (http.Handler, error) {
	if deps.Predictor == nil {
		return nil, errors.New("http: predictor is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Language == language.Und {
		deps.Language = language.Indonesian
	}

	pages, err := newPages(deps)
	if err != nil {
		return nil, err
	}
	api := &apiHandlers{deps: deps}

	mux := http.NewServeMux()
	pages.register(mux)
	api.register(mux)

	chain := Chain(
		LoggerMiddleware(deps.Logger, deps.Metrics),
		RecoveryMiddleware(deps.Logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
		RequestSizeMiddleware(config.MaxBodyBytes),
	)
	return chain(mux), nil
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
