package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/netutil"

	"github.com/jakub-figat/chromatin/config"
	httpx "github.com/jakub-figat/chromatin/internal/http"
	"github.com/jakub-figat/chromatin/internal/service"
)

const (
	defaultHTTPAddr     = ":8080"
	httpIdleTimeout     = 120 * time.Second
	httpShutdownDefault = 15 * time.Second
)

func httpComponent(cfg *ServiceOrchestrationConfig, logger *slog.Logger) component {
	return component{
		mode: config.ServiceModeHTTP,
		name: "http server",
		run: func(ctx context.Context) error {
			handler := httpx.NewRouter(httpx.RouterServices{
				Jobs:           cfg.Services.Jobs,
				Sequences:      cfg.Services.Sequences,
				MaxUploadBytes: cfg.Config.Upload.MaxTotalBytes,
				Health:         healthPingers(cfg.DB, cfg.RedisClient),
				Logger:         logger,
			})
			ln, err := listen(cfg.Config.HTTP)
			if err != nil {
				return err
			}
			return serveHTTP(ctx, ln, handler, httpServeOptions{
				HTTP:   cfg.Config.HTTP,
				Jobs:   cfg.Services.Jobs,
				Logger: logger,
			})
		},
	}
}

func listenAddr(cfg config.HTTPConfig) string {
	if cfg.Addr == "" {
		return defaultHTTPAddr
	}
	return cfg.Addr
}

// listen binds the API address. With MaxConnections set, further clients wait in the
// accept backlog until a connection closes.
func listen(cfg config.HTTPConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddr(cfg))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return ln, nil
}

func healthPingers(db *sql.DB, client redis.UniversalClient) []httpx.Pinger {
	var pingers []httpx.Pinger
	if db != nil {
		pingers = append(pingers, db)
	}
	if client != nil {
		pingers = append(pingers, httpx.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	return pingers
}

type httpServeOptions struct {
	HTTP   config.HTTPConfig
	Jobs   *service.JobService
	Logger *slog.Logger
}

// serveHTTP serves on ln until ctx is cancelled, then stops job status notifications so
// long-polling requests return, and shuts the server down within HTTP.ShutdownTimeout.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, opts httpServeOptions) error {
	// No WriteTimeout: sequence downloads stream arbitrarily large payloads.
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: opts.HTTP.ReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		opts.Logger.Info("http server listening", "addr", ln.Addr().String())
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := opts.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpShutdownDefault
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if opts.Jobs != nil {
		opts.Jobs.StopNotifications()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
