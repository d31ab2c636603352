package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultCompletionModel = "CodeLlama-7b-Instruct"

// Completion calls the platform's raw prompt endpoints. Chat-only models
// still work here: the platform wraps the prompt into a single-turn
// conversation on its side.
type Completion struct {
	p *pipeline
}

func NewCompletion(opts ...Option) *Completion {
	return &Completion{p: newPipeline(endpoints.Completions, defaultCompletionModel, opts)}
}

func (c *Completion) Do(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	out := &CompletionResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, completionPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Completion) Stream(ctx context.Context, req *CompletionRequest) (*Stream[CompletionResponse], error) {
	raw, err := c.p.openStream(ctx, &req.BaseRequest, completionPrep(req))
	if err != nil {
		return nil, err
	}
	return streamOf[CompletionResponse](raw), nil
}

func (c *Completion) Models() []string {
	return c.p.rt.registry.Models(endpoints.Completions)
}

func completionPrep(req *CompletionRequest) prepFunc {
	return func(string) (any, int, error) {
		return req, tokens.Estimate(req.Prompt), nil
	}
}
