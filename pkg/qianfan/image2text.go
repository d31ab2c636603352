package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultImage2TextModel = "Fuyu-8B"

// Image2Text describes an image. The request carries the image as base64.
type Image2Text struct {
	p *pipeline
}

func NewImage2Text(opts ...Option) *Image2Text {
	return &Image2Text{p: newPipeline(endpoints.Image2Text, defaultImage2TextModel, opts)}
}

func (c *Image2Text) Do(ctx context.Context, req *Image2TextRequest) (*Image2TextResponse, error) {
	out := &Image2TextResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, image2TextPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Image2Text) Stream(ctx context.Context, req *Image2TextRequest) (*Stream[Image2TextResponse], error) {
	raw, err := c.p.openStream(ctx, &req.BaseRequest, image2TextPrep(req))
	if err != nil {
		return nil, err
	}
	return streamOf[Image2TextResponse](raw), nil
}

func (c *Image2Text) Models() []string {
	return c.p.rt.registry.Models(endpoints.Image2Text)
}

func image2TextPrep(req *Image2TextRequest) prepFunc {
	return func(string) (any, int, error) {
		return req, tokens.Estimate(req.Prompt), nil
	}
}
