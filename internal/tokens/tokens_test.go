package tokens

import "testing"

// TestEstimate exercises the han/word mix the estimator is built around.
func TestEstimate(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"english words", "hello world", 2},
		{"han only", "你好世界", 2},        // 4 * 0.625 = 2.5 → 2
		{"mixed", "你好 big world", 3},   // 2*0.625 + 2 = 3.25 → 3
		{"han splits words", "a你b", 2}, // han char breaks "a" and "b" apart
		{"punctuation stays attached", "one,two three", 2},
		{"numbers count as words", "abc123 456", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Estimate(tc.text); got != tc.want {
				t.Errorf("Estimate(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}
