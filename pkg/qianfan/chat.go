package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultChatModel = "ERNIE-Lite-8K"

// ChatCompletion calls the platform's chat endpoints. A client is cheap and
// safe for concurrent use; the model is picked per request, per client option
// or falls back to ERNIE-Lite-8K.
type ChatCompletion struct {
	p *pipeline
}

func NewChatCompletion(opts ...Option) *ChatCompletion {
	return &ChatCompletion{p: newPipeline(endpoints.Chat, defaultChatModel, opts)}
}

// Do sends the conversation and blocks for the full response.
func (c *ChatCompletion) Do(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	out := &ChatResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, chatPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream sends the conversation and returns the response one sentence at a
// time. The final event carries is_end and the usage totals.
func (c *ChatCompletion) Stream(ctx context.Context, req *ChatRequest) (*Stream[ChatResponse], error) {
	raw, err := c.p.openStream(ctx, &req.BaseRequest, chatPrep(req))
	if err != nil {
		return nil, err
	}
	return streamOf[ChatResponse](raw), nil
}

// Models lists the chat model names the client can resolve, builtin and
// discovered.
func (c *ChatCompletion) Models() []string {
	return c.p.rt.registry.Models(endpoints.Chat)
}

// chatPrep finalizes the payload once the endpoint path is known: history
// that overflows the endpoint's input window is dropped oldest first.
func chatPrep(req *ChatRequest) prepFunc {
	return func(path string) (any, int, error) {
		body := *req
		body.Messages = truncateMessages(path, req.Messages)

		estimate := tokens.Estimate(body.System)
		for _, m := range body.Messages {
			estimate += tokens.Estimate(m.Content)
		}
		return &body, estimate, nil
	}
}
