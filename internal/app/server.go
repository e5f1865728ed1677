package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtutor/internal/api"
	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/health"
	"github.com/MrWong99/voxtutor/internal/observe"
	"github.com/MrWong99/voxtutor/internal/pipeline"
)

const (
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout = 15 * time.Second

	defaultTemperature = 0.7
	readHeaderTimeout  = 10 * time.Second
)

// ErrMissingProvider is returned by NewServer when a pipeline stage has no
// provider.
var ErrMissingProvider = errors.New("app: missing provider")

// ServerOption configures a Server. Use these to inject test doubles.
type ServerOption func(*Server)

// WithMetrics records HTTP and pipeline metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer serves g on /metrics instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) { s.listener = l }
}

// Server is the tutoring HTTP server: the pipeline and chat endpoints,
// health probes and, when enabled, Prometheus metrics.
type Server struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	listener net.Listener

	health  *health.Handler
	handler http.Handler
	srv     *http.Server
}

// NewServer wires the pipeline over providers. The LLM, STT and TTS slots
// must be set.
func NewServer(cfg *config.Config, providers *Providers, opts ...ServerOption) (*Server, error) {
	var missing []error
	if providers.STT == nil {
		missing = append(missing, fmt.Errorf("%w: stt", ErrMissingProvider))
	}
	if providers.LLM == nil {
		missing = append(missing, fmt.Errorf("%w: llm", ErrMissingProvider))
	}
	if providers.TTS == nil {
		missing = append(missing, fmt.Errorf("%w: tts", ErrMissingProvider))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	p := pipeline.New(providers.STT, providers.LLM, providers.TTS,
		pipeline.WithMetrics(s.metrics),
		pipeline.WithLanguage(cfg.Providers.STT.OptString("language")),
		pipeline.WithDefaultFormat(cfg.Conversation.ResponseFormat),
		pipeline.WithProviderNames(providers.Names["stt"], providers.Names["llm"], providers.Names["tts"]),
	)

	conv := cfg.Conversation
	temperature := defaultTemperature
	if conv.Temperature != nil {
		temperature = *conv.Temperature
	}
	apiServer := api.NewServer(p,
		api.WithDefaults(api.Defaults{
			TutorRole:      conv.Role(),
			Model:          conv.Model,
			Temperature:    temperature,
			Voice:          conv.Voice,
			TTSModel:       conv.TTSModel,
			ResponseFormat: conv.ResponseFormat,
			Speed:          conv.Speed,
		}),
		api.WithMaxUpload(cfg.Server.MaxUploadBytes),
	)

	var checkers []health.Checker
	for _, name := range providers.BreakerNames() {
		checkers = append(checkers, health.BreakerCheck(name, providers.Breakers[name]))
	}
	s.health = health.New(checkers)

	mux := http.NewServeMux()
	apiServer.Register(mux)
	s.health.Register(mux)
	if cfg.Server.Metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = observe.Middleware(s.metrics)(mux)

	s.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the readiness handler.
func (s *Server) Health() *health.Handler { return s.health }

// Run serves until ctx is cancelled, then marks the server as draining and
// shuts down gracefully within [ShutdownTimeout].
func (s *Server) Run(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen %q: %w", s.cfg.Server.ListenAddr, err)
		}
	}
	slog.Info("server listening", "addr", ln.Addr().String(), "tls", s.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = s.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.SetDraining(true)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})
	return g.Wait()
}
