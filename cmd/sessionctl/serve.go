package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/edge"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// runServe puts the edge gate in front of an upstream page server.
func runServe(ctx context.Context, cfg config.Config, addr, upstream string) error {
	target, err := url.Parse(upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream %q: %w", upstream, err)
	}

	var opts []edge.Option
	if key := cfg.GetCookieHashKey(); key != nil {
		opts = append(opts, edge.WithCodec(credentials.NewCookieCodec(key, cfg.GetSessionCookieMaxAge())))
	}
	gate := edge.New(cfg.GetLoginPage(), cfg.GetHomePage(), opts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", edge.Chain(httputil.NewSingleHostReverseProxy(target), edge.PageMiddleware(cfg.GetEnv(), gate)...))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("upstream", upstream).Msg("Gate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server.ListenAndServe %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return shutdown(server)
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
