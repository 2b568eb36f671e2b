package web

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tvarm/internal/logging"
)

// Server wraps the HTTP server for the dashboard.
type Server struct {
	addr     string
	handlers *Handlers
	log      logging.Logger
}

// NewServer creates a web server listening on the given port.
func NewServer(port int, ctrl Controller, log logging.Logger) (*Server, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, errors.Wrap(err, "loading embedded static files")
	}
	return &Server{
		addr:     fmt.Sprintf(":%d", port),
		handlers: NewHandlers(ctrl, staticFS, log),
		log:      log,
	}, nil
}

// Mux builds the route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handlers.HandleStatus)
	mux.HandleFunc("POST /api/target", s.handlers.HandleTarget)
	mux.HandleFunc("POST /api/calibrate", s.handlers.HandleCalibrate)
	mux.HandleFunc("POST /api/stop", s.handlers.HandleStop)
	mux.HandleFunc("POST /api/estop", s.handlers.HandleEmergencyStop)
	mux.HandleFunc("POST /api/clear_faults", s.handlers.HandleClearFaults)
	mux.HandleFunc("GET /events", s.handlers.HandleEvents)
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(s.handlers.staticFS)))

	return mux
}

// Run starts the server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("web dashboard listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "web server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
