// Package transport sends authorized requests to the platform and parses the
// JSON or SSE responses into envelopes the pipeline can classify.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

const requestIDHeader = "X-Bce-Request-Id"

// Request is a mutable request descriptor. The pipeline builds a fresh one
// per attempt; a descriptor is never reused once signed, because the
// signature covers the timestamped headers.
type Request struct {
	Method  string
	BaseURL string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// NewRequest returns a descriptor with empty query and header maps.
func NewRequest(method, baseURL, path string) *Request {
	return &Request{
		Method:  method,
		BaseURL: baseURL,
		Path:    path,
		Query:   url.Values{},
		Headers: http.Header{},
	}
}

// URL renders the absolute URL including the encoded query string.
func (r *Request) URL() string {
	u := r.BaseURL + r.Path
	if enc := r.Query.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Response is one parsed platform envelope: either a whole JSON body or a
// single SSE event. A non-zero ErrorCode is meaningful even when StatusCode
// is 200.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	ErrorCode  int
	ErrorMsg   string
}

// Client issues HTTP calls. The embedded http.Client carries no timeout;
// per-call deadlines arrive through ctx so that long-lived streams are not
// cut off by a transport-wide timer.
type Client struct {
	hc     *http.Client
	logger *slog.Logger
}

// NewClient wraps hc, defaulting to a plain http.Client and slog.Default().
func NewClient(hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{hc: hc, logger: logger}
}

// Send issues the request and reads the whole body into an envelope.
// Transport-level failures come back as *qferr.TransportError; platform-level
// errors are reported through the envelope, not the error return.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	httpResp, reqID, err := c.do(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &qferr.TransportError{Op: "read " + req.Path, Err: err}
	}

	resp := newResponse(httpResp, body)
	c.logger.Debug("request done",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
		slog.Int("status", resp.StatusCode),
		slog.Int("error_code", resp.ErrorCode),
	)
	return resp, nil
}

// Stream issues the request expecting text/event-stream. When the server
// answers with any other content type (typically an application/json error
// body) the whole body is read and returned as an envelope instead, so the
// caller can classify it; exactly one of the two return values is non-nil on
// a nil error.
func (c *Client) Stream(ctx context.Context, req *Request) (*EventStream, *Response, error) {
	httpResp, reqID, err := c.do(ctx, req, "text/event-stream")
	if err != nil {
		return nil, nil, err
	}

	ct := httpResp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/event-stream") {
		defer httpResp.Body.Close()
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, nil, &qferr.TransportError{Op: "read " + req.Path, Err: err}
		}
		resp := newResponse(httpResp, body)
		c.logger.Debug("stream answered with json",
			slog.String("path", req.Path),
			slog.String("request_id", reqID),
			slog.Int("status", resp.StatusCode),
			slog.Int("error_code", resp.ErrorCode),
		)
		return nil, resp, nil
	}

	c.logger.Debug("stream open",
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
	)
	return newEventStream(httpResp), nil, nil
}

// do builds and fires the HTTP request, filling in default headers.
func (c *Client) do(ctx context.Context, req *Request, accept string) (*http.Response, string, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), body)
	if err != nil {
		return nil, "", &qferr.InternalError{Msg: "build request: " + err.Error()}
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", accept)
	}
	reqID := httpReq.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
		httpReq.Header.Set(requestIDHeader, reqID)
	}

	start := time.Now()
	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		// Deadline and cancellation pass through untouched so the retry
		// controller can tell budget exhaustion from network failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", &qferr.TransportError{Op: req.Method + " " + req.Path, Err: err}
	}
	c.logger.Debug("response headers received",
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return httpResp, reqID, nil
}

func newResponse(httpResp *http.Response, body []byte) *Response {
	code, msg := extractError(body)
	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		ErrorCode:  code,
		ErrorMsg:   msg,
	}
}

// extractError pulls `error_code`/`error_msg` out of a JSON body. The fields
// usually sit at the top level but some console responses nest them, so the
// scan walks the object tree and returns the first non-zero code found.
func extractError(body []byte) (int, string) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return 0, ""
	}
	return scanErrorFields(m)
}

func scanErrorFields(m map[string]any) (int, string) {
	if raw, ok := m["error_code"]; ok {
		if code := asInt(raw); code != 0 {
			msg, _ := m["error_msg"].(string)
			return code, msg
		}
	}
	for _, v := range m {
		if sub, ok := v.(map[string]any); ok {
			if code, msg := scanErrorFields(sub); code != 0 {
				return code, msg
			}
		}
	}
	return 0, ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}
