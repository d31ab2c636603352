package qianfan

import (
	"unicode/utf8"

	"github.com/nulpointcorp/qianfan-go/internal/tokens"
)

// inputLimit is the conversation budget of one chat endpoint: the documented
// maximum input characters and input tokens.
type inputLimit struct {
	chars  int
	tokens int
}

var inputLimits = map[string]inputLimit{
	"/chat/completions_pro":  {20000, 5120},
	"/chat/completions":      {20000, 5120},
	"/chat/ernie_speed":      {24000, 6144},
	"/chat/ernie-speed-128k": {507904, 126976},
	"/chat/eb-instant":       {24000, 6144},
}

// defaultInputLimit applies to endpoints without a documented budget,
// matching the tightest hosted ERNIE tier.
var defaultInputLimit = inputLimit{20000, 5120}

func limitFor(path string) inputLimit {
	if lim, ok := inputLimits[path]; ok {
		return lim
	}
	return defaultInputLimit
}

// truncateMessages drops whole messages from the head of the conversation
// until both the character and the token budget of the endpoint hold. The
// final message is always kept, even when it alone exceeds the budget;
// messages are never split.
func truncateMessages(path string, msgs []ChatMessage) []ChatMessage {
	lim := limitFor(path)
	start := 0
	for start < len(msgs)-1 && exceedsLimit(msgs[start:], lim) {
		start++
	}
	return msgs[start:]
}

func exceedsLimit(msgs []ChatMessage, lim inputLimit) bool {
	chars, toks := 0, 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
		toks += tokens.Estimate(m.Content)
	}
	return chars > lim.chars || toks > lim.tokens
}
