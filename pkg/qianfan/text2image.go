package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultText2ImageModel = "Stable-Diffusion-XL"

// Text2Image renders prompts into base64-encoded images.
type Text2Image struct {
	p *pipeline
}

func NewText2Image(opts ...Option) *Text2Image {
	return &Text2Image{p: newPipeline(endpoints.Text2Image, defaultText2ImageModel, opts)}
}

func (c *Text2Image) Do(ctx context.Context, req *Text2ImageRequest) (*Text2ImageResponse, error) {
	out := &Text2ImageResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, text2ImagePrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Text2Image) Stream(ctx context.Context, req *Text2ImageRequest) (*Stream[Text2ImageResponse], error) {
	raw, err := c.p.openStream(ctx, &req.BaseRequest, text2ImagePrep(req))
	if err != nil {
		return nil, err
	}
	return streamOf[Text2ImageResponse](raw), nil
}

func (c *Text2Image) Models() []string {
	return c.p.rt.registry.Models(endpoints.Text2Image)
}

func text2ImagePrep(req *Text2ImageRequest) prepFunc {
	return func(string) (any, int, error) {
		return req, tokens.Estimate(req.Prompt), nil
	}
}
