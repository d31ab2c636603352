package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

type platform struct {
	cfg Config
}

// handleToken mints a bearer token for any client_credentials exchange. The
// mock does not keep state, so every exchange succeeds with a fresh token.
func (p *platform) handleToken(ctx *fasthttp.RequestCtx) {
	applyLatency(p.cfg)

	args := ctx.QueryArgs()
	if string(args.Peek("grant_type")) != "client_credentials" {
		writeJSON(ctx, map[string]string{
			"error":             "invalid_request",
			"error_description": "grant_type must be client_credentials",
		})
		return
	}
	if len(args.Peek("client_id")) == 0 || len(args.Peek("client_secret")) == 0 {
		writeJSON(ctx, map[string]string{
			"error":             "invalid_client",
			"error_description": "unknown client id or secret",
		})
		return
	}

	writeJSON(ctx, map[string]any{
		"access_token": fmt.Sprintf("mock-token-%x", time.Now().UnixNano()),
		"expires_in":   2592000,
		"scope":        "ai_custom_yiyan_com_eb_instant",
	})
}

// mockServices is the deployment catalog DescribeServices returns. The URLs
// point back at this mock, so a discovered model resolves to a live endpoint.
var mockServices = []map[string]string{
	{"name": "ERNIE-Mock-8K", "apiType": "chat", "tail": "/chat/mock_chat"},
	{"name": "Mock-Completion", "apiType": "completions", "tail": "/completions/mock_completion"},
	{"name": "Mock-Embedding", "apiType": "embeddings", "tail": "/embeddings/mock_embedding"},
}

// handleDescribeServices answers the console listing with this mock's own
// deployments. The admin signature is accepted unchecked; only its presence
// is required, matching how the SDK gates console refreshes.
func (p *platform) handleDescribeServices(ctx *fasthttp.RequestCtx) {
	applyLatency(p.cfg)

	if string(ctx.QueryArgs().Peek("Action")) != "DescribeServices" {
		writePlatformError(ctx, 336005, "unknown console action")
		return
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(auth, "bce-auth-v1/") {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		writePlatformError(ctx, 14, "IAM authentication failed")
		return
	}

	base := "http://" + string(ctx.Host()) + inferencePrefix
	list := make([]map[string]any, 0, len(mockServices))
	for _, svc := range mockServices {
		list = append(list, map[string]any{
			"name":    svc["name"],
			"url":     base + svc["tail"],
			"apiType": svc["apiType"],
		})
	}
	writeJSON(ctx, map[string]any{
		"log_id": responseID(),
		"result": map[string]any{"serviceList": list},
	})
}

// inferenceRequest is the loose union of every capability's request body.
type inferenceRequest struct {
	Stream   bool   `json:"stream"`
	Prompt   string `json:"prompt"`
	Query    string `json:"query"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Input     []string `json:"input"`
	Documents []string `json:"documents"`
}

// promptText reduces whichever input the capability carries to one string,
// used for usage accounting.
func (r *inferenceRequest) promptText() string {
	if len(r.Messages) > 0 {
		parts := make([]string, len(r.Messages))
		for i, m := range r.Messages {
			parts[i] = m.Content
		}
		return strings.Join(parts, " ")
	}
	if r.Prompt != "" {
		return r.Prompt
	}
	if r.Query != "" {
		return r.Query
	}
	return strings.Join(r.Input, " ")
}

func (p *platform) handleInference(ctx *fasthttp.RequestCtx) {
	applyLatency(p.cfg)
	if shouldError(p.cfg) {
		writePlatformError(ctx, p.cfg.ErrorCode, "injected mock error")
		return
	}

	apiType, _ := ctx.UserValue("apitype").(string)
	var req inferenceRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writePlatformError(ctx, 336002, "invalid request body")
		return
	}

	switch apiType {
	case "chat", "completions", "image2text", "erniebot":
		p.serveChatShaped(ctx, &req)
	case "embeddings":
		p.serveEmbeddings(ctx, &req)
	case "text2image":
		p.serveText2Image(ctx, &req)
	case "reranker":
		p.serveReranker(ctx, &req)
	default:
		writePlatformError(ctx, 336005, fmt.Sprintf("unknown api type %q", apiType))
	}
}

// serveChatShaped answers chat, completion, image understanding and plugin
// requests: one result body, or a chunked SSE stream when asked.
func (p *platform) serveChatShaped(ctx *fasthttp.RequestCtx, req *inferenceRequest) {
	content := fakeSentence(p.cfg.StreamChunks * 3)
	if req.Stream {
		p.serveStream(ctx, req, content)
		return
	}
	writeJSON(ctx, map[string]any{
		"id":      responseID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"result":  content,
		"is_end":  true,
		"usage":   usageFor(req.promptText(), content),
	})
}

// serveStream emits the answer as sentence events followed by the [DONE]
// terminator. Usage rides only on the final event, like the real platform.
func (p *platform) serveStream(ctx *fasthttp.RequestCtx, req *inferenceRequest, content string) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	id := responseID()
	created := time.Now().Unix()
	prompt := req.promptText()
	chunks := splitChunks(content, p.cfg.StreamChunks)
	latency := time.Duration(p.cfg.LatencyMS) * time.Millisecond

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		for i, chunk := range chunks {
			ev := map[string]any{
				"id":          id,
				"object":      "chat.completion",
				"created":     created,
				"sentence_id": i,
				"result":      chunk,
				"is_end":      i == len(chunks)-1,
			}
			if i == len(chunks)-1 {
				ev["usage"] = usageFor(prompt, content)
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush() //nolint:errcheck
			if latency > 0 {
				time.Sleep(latency)
			}
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}

func (p *platform) serveEmbeddings(ctx *fasthttp.RequestCtx, req *inferenceRequest) {
	inputs := req.Input
	if len(inputs) == 0 {
		inputs = []string{""}
	}
	data := make([]map[string]any, len(inputs))
	for i := range inputs {
		data[i] = map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": fakeEmbedding(384),
		}
	}
	writeJSON(ctx, map[string]any{
		"id":      responseID(),
		"object":  "embedding_list",
		"created": time.Now().Unix(),
		"data":    data,
		"usage":   usageFor(req.promptText(), ""),
	})
}

func (p *platform) serveText2Image(ctx *fasthttp.RequestCtx, req *inferenceRequest) {
	body := map[string]any{
		"id":      responseID(),
		"object":  "image",
		"created": time.Now().Unix(),
		"data": []map[string]any{
			{"object": "image", "index": 0, "b64_image": onePixelPNG},
		},
		"usage": usageFor(req.promptText(), ""),
	}
	if req.Stream {
		p.serveSSEOnce(ctx, body)
		return
	}
	writeJSON(ctx, body)
}

// serveSSEOnce emits payload as a one-event stream. Capabilities without
// partial results still accept stream=true; the whole answer rides one event.
func (p *platform) serveSSEOnce(ctx *fasthttp.RequestCtx, payload map[string]any) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.SetStatusCode(fasthttp.StatusOK)

	payload["is_end"] = true
	data, _ := json.Marshal(payload)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprintf(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}

func (p *platform) serveReranker(ctx *fasthttp.RequestCtx, req *inferenceRequest) {
	results := make([]map[string]any, len(req.Documents))
	for i, doc := range req.Documents {
		// Deterministic decreasing scores keep assertions simple downstream.
		results[i] = map[string]any{
			"document":        doc,
			"relevance_score": 1.0 - float64(i)*0.1,
			"index":           i,
		}
	}
	writeJSON(ctx, map[string]any{
		"id":      responseID(),
		"object":  "rerank_list",
		"created": time.Now().Unix(),
		"results": results,
		"usage":   usageFor(req.Query, ""),
	})
}

// splitChunks cuts text into n roughly equal word groups.
func splitChunks(text string, n int) []string {
	words := strings.Fields(text)
	if n <= 0 || len(words) == 0 {
		return []string{text}
	}
	if n > len(words) {
		n = len(words)
	}
	per := (len(words) + n - 1) / n
	chunks := make([]string, 0, n)
	for start := 0; start < len(words); start += per {
		end := start + per
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
