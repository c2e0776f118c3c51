package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/ironsheep/scene-dispatcher/internal/logging"
)

// Runner executes one scene job. *scene.Inferencer satisfies it.
type Runner interface {
	Run(ctx context.Context, imagePath, outputPath string) error
}

// Options configures a Server.
type Options struct {
	// Port is the TCP port to listen on
	Port int

	// MaxConcurrentJobs bounds concurrently running jobs
	MaxConcurrentJobs int

	// CORSOrigins, if non-empty, enables CORS for these origins
	CORSOrigins []string

	// Version is reported by /status
	Version string
}

// Server is the HTTP front door of the dispatcher.
type Server struct {
	runner  Runner
	gate    *Gate
	opts    Options
	handler http.Handler
}

// New creates a server that runs jobs through runner.
func New(runner Runner, opts Options) *Server {
	s := &Server{
		runner: runner,
		gate:   NewGate(opts.MaxConcurrentJobs),
		opts:   opts,
	}

	router := httprouter.New()
	router.POST("/segment", s.handleSegment)
	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)

	s.handler = router
	if len(opts.CORSOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}).Handler(router)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Gate returns the admission gate.
func (s *Server) Gate() *Gate {
	return s.gate
}

// Run listens on the configured port until ctx is done.
//
// Read and write timeouts are disabled: a /segment request stays open for as
// long as its job runs.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.opts.Port),
		Handler: s.handler,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logging.Warningf("Server shutdown: %v", err)
		}
	}()

	logging.Infof("Starting server on port %d", s.opts.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-shutdownDone
	return nil
}
