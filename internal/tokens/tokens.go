// Package tokens estimates token counts for billing-adjacent bookkeeping.
//
// The platform does not expose its tokenizer, so the SDK approximates:
// each han character counts 0.625 tokens and each remaining whitespace-split
// word counts 1. Chat truncation and TPM accounting both use this estimate;
// keeping them on one function prevents the two from drifting apart.
package tokens

import "strings"

const hanTokenRate = 0.625

// Estimate returns the approximate token count of text.
func Estimate(text string) int {
	han := 0
	var rest strings.Builder
	for _, r := range text {
		// CJK Unified Ideographs block.
		if r >= 0x4e00 && r <= 0x9fff {
			han++
			rest.WriteByte(' ')
			continue
		}
		rest.WriteRune(r)
	}
	words := len(strings.Fields(rest.String()))
	return int(float64(han)*hanTokenRate + float64(words))
}
