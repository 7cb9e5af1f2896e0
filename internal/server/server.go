// Package server exposes the assistant over HTTP: auth, conversations,
// streaming chat, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sidekick/config"
	"sidekick/internal/memory"
	"sidekick/internal/search"
	"sidekick/internal/store"
	"sidekick/internal/telemetry"
	"sidekick/internal/tools"
	"sidekick/provider"
)

// Run wires every component and serves until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	origins := []string{"*"}
	if cfg.Server.AllowedOrigins != "" {
		origins = strings.Split(cfg.Server.AllowedOrigins, ",")
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.Server.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)

	registry, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return err
	}
	llm, err := registry.Get("")
	if err != nil {
		return err
	}

	retriever, err := memory.NewRetriever(cfg.Retriever)
	if err != nil {
		return err
	}
	working, err := memory.NewWorkingMemory(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}

	aggregator := search.New(cfg.Search, tele)

	dispatcher := tools.NewSuite(cfg, tools.Deps{
		Notes:     st,
		Indexer:   retriever,
		Memory:    working,
		Searcher:  aggregator,
		Retriever: retriever,
		LLM:       llm,
	}, tele)

	auth := &AuthHandler{Store: st, Secret: []byte(cfg.Server.JWTSecret)}
	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	ch := NewConversationsHandler(cfg, st, llm, dispatcher, retriever, working, tele)
	ch.Register(api.Group("/conversations"), auth.Secret)

	nh := &NotesHandler{Store: st}
	nh.Register(api.Group("/notes"), auth.Secret)

	sweeper := &Sweeper{
		Store:  st,
		Memory: working,
		Cron:   cfg.Server.RetentionCron,
		Days:   cfg.Server.RetentionDays,
		Stop:   make(chan struct{}),
	}
	sweeper.Start()

	tele.StartPeriodicLogs(5*time.Minute, sweeper.Stop)

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
