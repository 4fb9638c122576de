package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/haileyok/solid-oauth-golang/internal/metrics"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"golang.org/x/time/rate"
)

const (
	sessionName     = "session"
	sessionStateKey = "oauth_state"
	sessionWebIDKey = "webid"
	sessionIssKey   = "issuer"
)

type Server struct {
	e      *echo.Echo
	httpd  *http.Server
	flow   *oauth.Flow
	logger *slog.Logger
}

type ServerArgs struct {
	Flow          *oauth.Flow
	Logger        *slog.Logger
	Addr          string
	SessionSecret []byte
	RegisterRate  rate.Limit
	Gatherer      prometheus.Gatherer
}

func NewServer(args ServerArgs) *Server {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.Gatherer == nil {
		args.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(slogecho.New(args.Logger))
	e.Use(middleware.Recover())
	e.Use(session.Middleware(sessions.NewCookieStore(args.SessionSecret)))

	s := &Server{
		e:      e,
		flow:   args.Flow,
		logger: args.Logger,
		httpd: &http.Server{
			Addr:    args.Addr,
			Handler: e,
		},
	}

	burst := int(args.RegisterRate)
	if burst < 1 {
		burst = 1
	}

	registerLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      args.RegisterRate,
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(e echo.Context) (string, error) {
			return e.RealIP(), nil
		},
		DenyHandler: func(e echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many authentication attempts")
		},
	})

	e.GET("/client/:cid", s.handleClientDocument)
	e.GET("/jwks.json", s.handleJwks)
	e.POST("/register", s.handleRegister, registerLimiter)
	e.GET("/redirect", s.handleRedirect)
	e.POST("/callback", s.handleCallback)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(args.Gatherer)))

	return s
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpd.Addr)
	return s.httpd.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}
