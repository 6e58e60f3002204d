package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server timeouts. Streamed completions can run for many minutes, so the
// write timeout is generous while reads stay tight.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 600 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// Server wraps http.Server with cc-gateway configuration.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a server for handler on addr. writeTimeout <= 0 uses
// DefaultWriteTimeout. With enableHTTP2 the handler also speaks h2c.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration, enableHTTP2 bool) *Server {
	if enableHTTP2 {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe starts the server and blocks. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	return ignoreClosed(s.httpServer.ListenAndServe())
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	return ignoreClosed(s.httpServer.Serve(l))
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
