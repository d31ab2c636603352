package endpoints

// builtinTable maps each capability to the models the platform ships with.
// Keys are lowercased model names; Entry.Name keeps the display casing.
// Dynamic discovery via the console API extends this table at runtime, it
// never replaces it.
var builtinTable = map[Capability]map[string]Entry{
	Chat: {
		"ernie-4.0-8k":     {Name: "ERNIE-4.0-8K", Path: "/chat/completions_pro"},
		"ernie-bot-4":      {Name: "ERNIE-Bot-4", Path: "/chat/completions_pro"},
		"ernie-3.5-8k":     {Name: "ERNIE-3.5-8K", Path: "/chat/completions"},
		"ernie-bot":        {Name: "ERNIE-Bot", Path: "/chat/completions"},
		"ernie-speed":      {Name: "ERNIE-Speed", Path: "/chat/ernie_speed"},
		"ernie-speed-8k":   {Name: "ERNIE-Speed-8K", Path: "/chat/ernie_speed"},
		"ernie-speed-128k": {Name: "ERNIE-Speed-128K", Path: "/chat/ernie-speed-128k"},
		"ernie-bot-turbo":  {Name: "ERNIE-Bot-turbo", Path: "/chat/eb-instant"},
		"ernie-lite-8k":    {Name: "ERNIE-Lite-8K", Path: "/chat/eb-instant"},
		"ernie-tiny-8k":    {Name: "ERNIE-Tiny-8K", Path: "/chat/ernie-tiny-8k"},
		"ernie-character-8k": {
			Name: "ERNIE-Character-8K", Path: "/chat/ernie-char-8k",
		},
		"yi-34b-chat": {Name: "Yi-34B-Chat", Path: "/chat/yi_34b_chat"},
		"bloomz-7b":   {Name: "BLOOMZ-7B", Path: "/chat/bloomz_7b1"},
		"llama-2-7b-chat": {
			Name: "Llama-2-7b-chat", Path: "/chat/llama_2_7b",
		},
		"llama-2-13b-chat": {
			Name: "Llama-2-13b-chat", Path: "/chat/llama_2_13b",
		},
		"llama-2-70b-chat": {
			Name: "Llama-2-70b-chat", Path: "/chat/llama_2_70b",
		},
	},
	Completions: {
		"sqlcoder-7b": {Name: "SQLCoder-7B", Path: "/completions/sqlcoder_7b"},
		"codellama-7b-instruct": {
			Name: "CodeLlama-7b-Instruct", Path: "/completions/codellama_7b_instruct",
		},
	},
	Embeddings: {
		"embedding-v1": {Name: "Embedding-V1", Path: "/embeddings/embedding-v1"},
		"bge-large-zh": {Name: "bge-large-zh", Path: "/embeddings/bge_large_zh"},
		"bge-large-en": {Name: "bge-large-en", Path: "/embeddings/bge_large_en"},
		"tao-8k":       {Name: "tao-8k", Path: "/embeddings/tao_8k"},
	},
	Text2Image: {
		"stable-diffusion-xl": {Name: "Stable-Diffusion-XL", Path: "/text2image/sd_xl"},
	},
	Image2Text: {
		"fuyu-8b": {Name: "Fuyu-8B", Path: "/image2text/fuyu_8b"},
	},
	Reranker: {
		"bce-reranker-base_v1": {
			Name: "bce-reranker-base_v1", Path: "/reranker/bce_reranker_base",
		},
	},
	Plugin: {
		"ebpluginv2": {Name: "EBPluginV2", Path: "/erniebot/plugin"},
	},
}
