package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/caravanhq/caravan/config"
	"github.com/caravanhq/caravan/internal/booking"
	"github.com/caravanhq/caravan/internal/memory"
	"github.com/caravanhq/caravan/internal/negotiation"
	"github.com/caravanhq/caravan/internal/notify"
	"github.com/caravanhq/caravan/internal/runtime"
	"github.com/caravanhq/caravan/internal/store"
	"github.com/caravanhq/caravan/provider"
)

// Run wires every dependency and serves the HTTP API until the process
// exits.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	recall, err := memory.NewRecall()
	if err != nil {
		return err
	}

	orchLogger := log.New(log.Writer(), "[NEGO] ", log.LstdFlags)
	orch := negotiation.NewOrchestrator(llm, orchLogger)
	orch.AttachMemoryRecall(recall, cfg.Negotiation.MemoryRecallTopK)

	mailer := notify.NewMailer(cfg.Notify)
	tokens := notify.NewRedisTokenStore(rdb)
	pipeline := &booking.ExpediaClient{
		SiteURL:  cfg.Booking.SiteURL,
		Headless: cfg.Booking.Headless,
		Timeout:  cfg.Booking.Timeout,
	}
	dispatcher := booking.NewDispatcher(pipeline, log.New(log.Writer(), "[BOOK] ", log.LstdFlags))

	co := &Coordinator{
		Cfg:        cfg,
		Store:      st,
		Orch:       orch,
		Channel:    mailer,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     log.New(log.Writer(), "[COORD] ", log.LstdFlags),
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	auth := &AuthHandler{Store: st, Secret: secret}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	protected := runtime.EchoAuthMiddleware(secret)
	ph := &ParticipantsHandler{Store: st, Recall: recall}
	ph.Register(api.Group("/participants", protected))
	sh := &SessionsHandler{Coordinator: co}
	sh.Register(api.Group("/sessions", protected))

	// webhook is authenticated by token resolution, not JWT
	wh := &WebhookHandler{Coordinator: co, Tokens: tokens}
	wh.Register(e.Group("/webhooks"))

	sched := &Scheduler{
		Store:    st,
		Channel:  mailer,
		Tokens:   tokens,
		Rdb:      rdb,
		Stop:     make(chan struct{}),
		CronSpec: cfg.Notify.ReminderCron,
		Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10002"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
