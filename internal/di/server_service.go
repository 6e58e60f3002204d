package di

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/proxy"
)

// ServerService wraps the HTTP server.
type ServerService struct {
	Server *proxy.Server
}

// NewHTTPServer creates the HTTP server.
func NewHTTPServer(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	handlerSvc := do.MustInvoke[*HandlerService](i)
	cfg := cfgSvc.Get().Server

	server := proxy.NewServer(
		cfg.GetListen(),
		handlerSvc.Handler,
		cfg.GetTimeoutOption().OrEmpty(),
		cfg.EnableHTTP2,
	)

	return &ServerService{Server: server}, nil
}

// Shutdown implements do.Shutdowner. The server stops accepting requests
// before the quota checker flushes.
func (s *ServerService) Shutdown() error {
	if s.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Server.Shutdown(ctx)
}
