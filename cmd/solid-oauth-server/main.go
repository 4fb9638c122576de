package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/haileyok/solid-oauth-golang/internal/backend"
	"github.com/haileyok/solid-oauth-golang/internal/config"
	"github.com/haileyok/solid-oauth-golang/internal/helpers"
	"github.com/haileyok/solid-oauth-golang/internal/httpclient"
	"github.com/haileyok/solid-oauth-golang/internal/logging"
	"github.com/haileyok/solid-oauth-golang/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "solid-oauth-server",
		Usage:   "Solid-OIDC relying party demo server",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "purge-interval",
				Usage: "how often expired authorization states are removed from a database backend",
				Value: 5 * time.Minute,
			},
		},
		Action: run,
	}

	app.RunAndExitOnError()
}

// statePurger is implemented by backends that do not expire states themselves.
type statePurger interface {
	PurgeStates(ctx context.Context, cutoff time.Time) (int64, error)
}

func run(cmd *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.SetupDefault(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := oauth.NewClient(oauth.ClientArgs{
		H:           httpclient.New(cfg.HTTPTimeout, cfg.SafeHTTP),
		Store:       store,
		Logger:      logger,
		BaseURL:     cfg.BaseURL,
		RedirectURL: cfg.RedirectURL,
		ClientName:  cfg.ClientName,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()

	flow, err := oauth.NewFlow(oauth.FlowArgs{
		Client:             client,
		UseStaticClientURL: cfg.AlwaysUseClientURL,
		Metrics:            metrics.NewCollector(reg),
	})
	if err != nil {
		return err
	}

	if _, err := flow.RelyingPartyKey(ctx); err != nil {
		return err
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		logger.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
		tok, err := helpers.GenerateToken(32)
		if err != nil {
			return err
		}
		secret = []byte(tok)
	}

	s := NewServer(ServerArgs{
		Flow:          flow,
		Logger:        logger,
		Addr:          cfg.ListenAddr,
		SessionSecret: secret,
		RegisterRate:  cfg.RegisterRate,
		Gatherer:      reg,
	})

	if p, ok := store.(statePurger); ok {
		go purgeStates(ctx, s, p, cmd.Duration("purge-interval"))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", "err", err)
		}
	}()

	if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func purgeStates(ctx context.Context, s *Server, p statePurger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeStates(ctx, time.Now().Add(-oauth.StateTTL))
			if err != nil {
				s.logger.Error("could not purge authorization states", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired authorization states", "count", n)
			}
		}
	}
}
