package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-zoox/devproxy"
	"github.com/go-zoox/devproxy/internal/config"
	"github.com/go-zoox/devproxy/internal/web"
	"github.com/go-zoox/logger"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "path to the dev server config file (defaults to ./devproxy.yml)")
	listenAddr = flag.String("addr", "", "listen address override (host:port)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %s", err)
	}

	rules, err := cfg.BuildRules()
	if err != nil {
		logger.Fatalf("invalid proxy configuration: %s", err)
	}

	router := devproxy.NewRouter(rules, &devproxy.RouterConfig{
		Fallback: fallbackHandler(cfg),
	})

	addr := cfg.ListenAddress()
	if *listenAddr != "" {
		addr = *listenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("devproxy listening at http://%s (%d proxy rules)", addr, rules.Len())
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("devproxy: %s", err)
	}
}

// fallbackHandler serves whatever a matched proxy rule doesn't: the built
// frontend when server.root is configured, a 404 otherwise.
func fallbackHandler(cfg *config.Config) http.Handler {
	if cfg.Server.Root != "" {
		return web.NewSPAHandler(cfg.Server.Root)
	}

	return http.NotFoundHandler()
}
