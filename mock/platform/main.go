// Command platform runs a lightweight mock of the Qianfan inference platform
// for E2E and load testing without real credentials. It serves the oauth
// token endpoint, the console service listing and every inference capability
// (JSON and SSE) on a single port.
//
//	default address  :19080
//
// Environment overrides:
//
//	MOCK_PORT          — listen port (default 19080)
//	MOCK_LATENCY_MS    — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE    — fraction [0,1] of inference requests answered with a
//	                     platform error envelope (default 0)
//	MOCK_ERROR_CODE    — error_code used for injected errors (default 336100)
//	MOCK_STREAM_CHUNKS — events per streaming response (default 6)
//
// Point the SDK at it with QIANFAN_BASE_URL / QIANFAN_CONSOLE_API_BASE_URL =
// http://localhost:19080 (any credentials are accepted).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

// inferencePrefix matches the URL prefix the real platform serves models on.
const inferencePrefix = "/rpc/2.0/ai_custom/v1/wenxinworkshop"

// Config holds the runtime behaviour knobs shared by all handlers.
type Config struct {
	Port         string
	LatencyMS    int
	ErrorRate    float64
	ErrorCode    int
	StreamChunks int
}

func loadConfig() Config {
	c := Config{Port: "19080", ErrorCode: 336100, StreamChunks: 6}

	if v := os.Getenv("MOCK_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_ERROR_CODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ErrorCode = n
		}
	}
	if v := os.Getenv("MOCK_STREAM_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamChunks = n
		}
	}
	return c
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock platform",
		slog.String("port", cfg.Port),
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("stream_chunks", cfg.StreamChunks),
	)

	p := &platform{cfg: cfg}

	r := router.New()
	r.POST("/oauth/2.0/token", p.handleToken)
	r.POST("/v2/service", p.handleDescribeServices)
	r.POST(inferencePrefix+"/{apitype}/{endpoint}", p.handleInference)
	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		writeJSON(ctx, map[string]string{"status": "ok"})
	})

	srv := &fasthttp.Server{
		Handler: applyMiddleware(r.Handler,
			recovery(log),
			requestID,
			timing,
		),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("mock platform stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("mock platform stopped")
}
