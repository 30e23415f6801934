package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

const (
	defaultPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ErrDisabled is returned by Serve when metrics.enabled is false.
var ErrDisabled = errors.New("metrics: disabled")

// Server is a running exposition listener.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
	err  error
}

// Serve binds cfg.Listen and serves the registry at cfg.Path until ctx is
// cancelled or Close is called.
func Serve(ctx context.Context, cfg config.MetricsConfig, m *Metrics) (*Server, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics: listening on %s: %w", cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	s := &Server{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.err = err
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close() //nolint:errcheck // best effort on shutdown
		case <-s.done:
		}
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close shuts the listener down and waits for the serve loop to exit.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	<-s.done
	return s.err
}
