package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultRerankerModel = "bce-reranker-base_v1"

// Reranker reorders candidate documents by relevance to a query.
type Reranker struct {
	p *pipeline
}

func NewReranker(opts ...Option) *Reranker {
	return &Reranker{p: newPipeline(endpoints.Reranker, defaultRerankerModel, opts)}
}

func (c *Reranker) Do(ctx context.Context, req *RerankerRequest) (*RerankerResponse, error) {
	out := &RerankerResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, rerankerPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Reranker) Models() []string {
	return c.p.rt.registry.Models(endpoints.Reranker)
}

func rerankerPrep(req *RerankerRequest) prepFunc {
	return func(string) (any, int, error) {
		estimate := tokens.Estimate(req.Query)
		for _, d := range req.Documents {
			estimate += tokens.Estimate(d)
		}
		return req, estimate, nil
	}
}
