package qianfan

import (
	"encoding/json"

	"github.com/nulpointcorp/qianfan-go/internal/transport"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// Usage reports token consumption as metered by the platform.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// BaseResponse carries the envelope fields every capability response shares.
type BaseResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Usage   Usage  `json:"usage"`

	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	// Raw is the body or event payload this response was decoded from.
	Raw []byte `json:"-"`
}

func (b *BaseResponse) attachEnvelope(raw []byte, code int, msg string) {
	b.Raw = raw
	if b.ErrorCode == 0 {
		b.ErrorCode = code
	}
	if b.ErrorMsg == "" {
		b.ErrorMsg = msg
	}
}

func (b *BaseResponse) usageInfo() Usage { return b.Usage }

// envelope is satisfied by every response type through its embedded
// BaseResponse, letting the pipeline attach raw bytes and read usage without
// knowing the concrete type.
type envelope interface {
	attachEnvelope(raw []byte, code int, msg string)
	usageInfo() Usage
}

// decodeInto parses a platform envelope into out and attaches the raw bytes.
func decodeInto(resp *transport.Response, out envelope) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &qferr.MalformedResponseError{
			Reason:  "response body is not the expected JSON shape",
			Snippet: snippet(resp.Body),
		}
	}
	out.attachEnvelope(resp.Body, resp.ErrorCode, resp.ErrorMsg)
	return nil
}

func snippet(b []byte) string {
	const max = 120
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// SearchInfo lists the web references a search-augmented answer cites.
type SearchInfo struct {
	SearchResults []SearchResult `json:"search_results"`
}

type SearchResult struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ChatResponse is one chat completion, or one partial event of a streaming
// chat completion.
type ChatResponse struct {
	BaseResponse
	Result           string        `json:"result"`
	IsEnd            bool          `json:"is_end"`
	IsTruncated      bool          `json:"is_truncated"`
	SentenceID       int           `json:"sentence_id"`
	NeedClearHistory bool          `json:"need_clear_history"`
	BanRound         int           `json:"ban_round"`
	FunctionCall     *FunctionCall `json:"function_call,omitempty"`
	SearchInfo       *SearchInfo   `json:"search_info,omitempty"`
}

// CompletionResponse and Image2TextResponse share the chat wire shape.
type (
	CompletionResponse = ChatResponse
	Image2TextResponse = ChatResponse
)

// EmbeddingData is one input's embedding vector.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type EmbeddingResponse struct {
	BaseResponse
	Data []EmbeddingData `json:"data"`
}

// ImageData is one generated image, base64-encoded.
type ImageData struct {
	Object   string `json:"object"`
	B64Image string `json:"b64_image"`
	Index    int    `json:"index"`
}

type Text2ImageResponse struct {
	BaseResponse
	Data []ImageData `json:"data"`
}

// RerankerData scores one candidate document against the query.
type RerankerData struct {
	Document       string  `json:"document"`
	RelevanceScore float64 `json:"relevance_score"`
	Index          int     `json:"index"`
}

type RerankerResponse struct {
	BaseResponse
	Results []RerankerData `json:"results"`
}

type PluginResponse struct {
	BaseResponse
	Result           string          `json:"result"`
	IsEnd            bool            `json:"is_end"`
	IsTruncated      bool            `json:"is_truncated"`
	NeedClearHistory bool            `json:"need_clear_history"`
	MetaInfo         json.RawMessage `json:"meta_info,omitempty"`
}

// streamProbe picks the fields the stream cursor needs from an event without
// decoding the whole capability type.
type streamProbe struct {
	IsEnd bool  `json:"is_end"`
	Usage Usage `json:"usage"`
}
