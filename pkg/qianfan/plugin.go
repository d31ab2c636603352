package qianfan

import (
	"context"

	"github.com/nulpointcorp/qianfan-go/internal/endpoints"
	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

const defaultPluginService = "EBPluginV2"

// Plugin drives a plugin application published on the platform. Plugin
// services have no model catalog; the endpoint is the service name assigned
// at publish time, so WithEndpoint (or the per-request Endpoint field) is the
// way to address one.
type Plugin struct {
	p *pipeline
}

func NewPlugin(opts ...Option) *Plugin {
	return &Plugin{p: newPipeline(endpoints.Plugin, defaultPluginService, opts)}
}

func (c *Plugin) Do(ctx context.Context, req *PluginRequest) (*PluginResponse, error) {
	out := &PluginResponse{}
	if err := c.p.do(ctx, &req.BaseRequest, pluginPrep(req), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Plugin) Stream(ctx context.Context, req *PluginRequest) (*Stream[PluginResponse], error) {
	raw, err := c.p.openStream(ctx, &req.BaseRequest, pluginPrep(req))
	if err != nil {
		return nil, err
	}
	return streamOf[PluginResponse](raw), nil
}

func pluginPrep(req *PluginRequest) prepFunc {
	return func(string) (any, int, error) {
		return req, tokens.Estimate(req.Query), nil
	}
}
