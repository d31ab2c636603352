package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// fakeWords is the pool the mock draws response text from.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"mock", "platform", "simulating", "a", "real", "model", "answer",
	"for", "development", "and", "testing", "purposes",
}

// fakeSentence returns roughly n words of mock text.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

// fakeEmbedding returns a unit-range vector of dim floats.
func fakeEmbedding(dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = rand.Float64()*2 - 1
	}
	return v
}

// onePixelPNG is a 1x1 transparent PNG, base64-encoded, served as the
// generated image.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func responseID() string {
	return fmt.Sprintf("as-mock%x", rand.Int64())
}

func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}

// writePlatformError emits the platform's error envelope. Like the real
// platform, it rides on HTTP 200; the error_code carries the failure.
func writePlatformError(ctx *fasthttp.RequestCtx, code int, msg string) {
	writeJSON(ctx, map[string]any{"error_code": code, "error_msg": msg})
}

// usageFor builds a usage block from the prompt and the generated text,
// counting whitespace-separated words.
func usageFor(prompt, completion string) map[string]int {
	in := len(strings.Fields(prompt))
	out := len(strings.Fields(completion))
	return map[string]int{
		"prompt_tokens":     in,
		"completion_tokens": out,
		"total_tokens":      in + out,
	}
}
