package qianfan

// Chat message roles accepted by the platform.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// BaseRequest carries the options every capability request shares. Model,
// Endpoint and LimitKey steer the pipeline and stay off the wire; the JSON
// fields marshal into the request body.
type BaseRequest struct {
	// Model selects an endpoint through the registry. Ignored when Endpoint
	// is set.
	Model string `json:"-"`

	// Endpoint is an explicit endpoint name (the last URL segment of a
	// service deployment). It bypasses the registry.
	Endpoint string `json:"-"`

	// LimitKey selects the rate-limit bucket. Empty derives a key from the
	// credential and the resolved endpoint.
	LimitKey string `json:"-"`

	UserID string `json:"user_id,omitempty"`

	// ExtraParameters passes through untyped body fields. The pipeline adds
	// request_source telemetry here without clobbering caller entries.
	ExtraParameters map[string]any `json:"extra_parameters,omitempty"`

	// Stream is set by the pipeline according to the entry point (Do or
	// Stream); any caller-set value is overwritten.
	Stream bool `json:"stream,omitempty"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Name identifies the function whose result this message carries when
	// Role is "function".
	Name string `json:"name,omitempty"`

	// FunctionCall echoes a previous assistant tool call when replaying
	// history.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Function declares one tool the model may call.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is a JSON-schema object describing the arguments.
	Parameters any `json:"parameters"`

	// Responses optionally describes the return schema.
	Responses any `json:"responses,omitempty"`

	// Examples optionally holds few-shot calling examples.
	Examples any `json:"examples,omitempty"`
}

// FunctionCall is the model's request to invoke a declared function.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Thoughts  string `json:"thoughts,omitempty"`
}

// ChatRequest is the payload of the chat capability.
type ChatRequest struct {
	BaseRequest
	Messages        []ChatMessage `json:"messages"`
	Functions       []Function    `json:"functions,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	TopP            float64       `json:"top_p,omitempty"`
	PenaltyScore    float64       `json:"penalty_score,omitempty"`
	System          string        `json:"system,omitempty"`
	Stop            []string      `json:"stop,omitempty"`
	DisableSearch   bool          `json:"disable_search,omitempty"`
	EnableCitation  bool          `json:"enable_citation,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

// CompletionRequest is the payload of the text completion capability.
type CompletionRequest struct {
	BaseRequest
	Prompt       string   `json:"prompt"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	PenaltyScore float64  `json:"penalty_score,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// EmbeddingRequest is the payload of the embedding capability.
type EmbeddingRequest struct {
	BaseRequest
	Input []string `json:"input"`
}

// Text2ImageRequest is the payload of the image generation capability.
type Text2ImageRequest struct {
	BaseRequest
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	SamplerIndex   string `json:"sampler_index,omitempty"`
	Seed           int    `json:"seed,omitempty"`
	Style          string `json:"style,omitempty"`
}

// Image2TextRequest is the payload of the image understanding capability.
type Image2TextRequest struct {
	BaseRequest
	Prompt string `json:"prompt"`

	// Image is the base64-encoded input image.
	Image string `json:"image"`

	Temperature  float64  `json:"temperature,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	PenaltyScore float64  `json:"penalty_score,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

// RerankerRequest is the payload of the reranking capability.
type RerankerRequest struct {
	BaseRequest
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

// PluginRequest is the payload of the plugin orchestration capability.
type PluginRequest struct {
	BaseRequest
	Query string `json:"query"`

	// Plugins names the plugins the orchestrator may invoke.
	Plugins []string `json:"plugins"`

	// FileURL points at an uploaded attachment some plugins consume.
	FileURL string `json:"fileurl,omitempty"`

	LLM            map[string]any `json:"llm,omitempty"`
	InputVariables map[string]any `json:"input_variables,omitempty"`
	History        []ChatMessage  `json:"history,omitempty"`
	Verbose        bool           `json:"verbose,omitempty"`
}
