// Package qianfan is a Go client for the Qianfan large-model inference
// platform.
//
// Each model capability (chat, completion, embedding, text-to-image,
// image-to-text, reranker, plugin) has its own client type constructed with
// functional options. Behind every client sits the same request pipeline:
// endpoint resolution, rate limiting, request authorization, transport,
// retry with backoff, and SSE stream parsing.
//
// Configuration comes from QIANFAN_-prefixed environment variables (or a
// dotenv file), optionally overridden through SetConfig. The minimal setup is
// a credential pair:
//
//	os.Setenv("QIANFAN_ACCESS_KEY", "...")
//	os.Setenv("QIANFAN_SECRET_KEY", "...")
//	chat := qianfan.NewChatCompletion(qianfan.WithModel("ERNIE-3.5-8K"))
//	resp, err := chat.Do(ctx, &qianfan.ChatRequest{
//		Messages: []qianfan.ChatMessage{{Role: "user", Content: "hi"}},
//	})
package qianfan

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// VersionIndicator identifies this SDK build in the telemetry source field
// attached to every inference request.
const VersionIndicator = "qianfan_go_sdk_v0.1.0"

var sdkLogger atomic.Pointer[slog.Logger]

// SetLogger replaces the logger used by SDK components that were not handed
// one explicitly. Safe for concurrent use.
func SetLogger(l *slog.Logger) {
	if l != nil {
		sdkLogger.Store(l)
	}
}

// activeLogger returns the package logger, creating the default JSON handler
// at WARN level on first use.
func activeLogger() *slog.Logger {
	if l := sdkLogger.Load(); l != nil {
		return l
	}
	l := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sdkLogger.CompareAndSwap(nil, l)
	return sdkLogger.Load()
}
