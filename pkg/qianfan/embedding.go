package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultEmbeddingModel = "Embedding-V1"

// Embedding turns text into vectors. Streaming does not apply here.
type Embedding struct {
	p *pipeline
}

func NewEmbedding(opts ...Option) *Embedding {
	return &Embedding{p: newPipeline(endpoints.Embeddings, defaultEmbeddingModel, opts)}
}

func (c *Embedding) Do(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	out := &EmbeddingResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, embeddingPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Embedding) Models() []string {
	return c.p.rt.registry.Models(endpoints.Embeddings)
}

func embeddingPrep(req *EmbeddingRequest) prepFunc {
	return func(string) (any, int, error) {
		estimate := 0
		for _, in := range req.Input {
			estimate += tokens.Estimate(in)
		}
		return req, estimate, nil
	}
}
