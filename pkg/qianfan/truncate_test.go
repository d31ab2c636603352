package qianfan

import (
	"strings"
	"testing"
)

// wordMessage builds a message of n whitespace-separated ASCII words, so the
// token estimate is n and the rune count is 2n.
func wordMessage(role string, n int) ChatMessage {
	return ChatMessage{Role: role, Content: strings.TrimSpace(strings.Repeat("w ", n))}
}

func TestTruncateMessages_DropsWholeHeadMessages(t *testing.T) {
	// /chat/ernie_speed allows 6144 tokens; three 4000-word messages overflow
	// until the first is gone.
	msgs := []ChatMessage{
		wordMessage(RoleUser, 4000),
		wordMessage(RoleAssistant, 4000),
		{Role: RoleUser, Content: "tail"},
	}
	got := truncateMessages("/chat/ernie_speed", msgs)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after truncation, got %d", len(got))
	}
	if got[0].Role != RoleAssistant {
		t.Errorf("expected the head message dropped, kept roles %s/%s", got[0].Role, got[1].Role)
	}
	if got[len(got)-1].Content != "tail" {
		t.Errorf("expected the final message kept, got %q", got[len(got)-1].Content)
	}
}

func TestTruncateMessages_CharBudget(t *testing.T) {
	// One 30000-rune word is a single token, so only the character budget
	// can force the drop.
	msgs := []ChatMessage{
		{Role: RoleUser, Content: strings.Repeat("a", 30000)},
		{Role: RoleUser, Content: "hi"},
	}
	got := truncateMessages("/chat/ernie_speed", msgs)
	if len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("expected the oversized head dropped by the char budget, got %d messages", len(got))
	}
}

func TestTruncateMessages_FinalMessageAlwaysKept(t *testing.T) {
	msgs := []ChatMessage{wordMessage(RoleUser, 50000)}
	got := truncateMessages("/chat/ernie_speed", msgs)
	if len(got) != 1 {
		t.Fatalf("expected the lone final message kept even over budget, got %d", len(got))
	}
}

func TestTruncateMessages_UnderBudgetUnchanged(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi, how can I help"},
		{Role: RoleUser, Content: "what is the weather"},
	}
	got := truncateMessages("/chat/ernie_speed", msgs)
	if len(got) != len(msgs) {
		t.Fatalf("expected no truncation, got %d of %d messages", len(got), len(msgs))
	}
	for i := range msgs {
		if got[i] != msgs[i] {
			t.Errorf("message %d changed: %+v", i, got[i])
		}
	}
}

func TestTruncateMessages_UnknownEndpointUsesDefault(t *testing.T) {
	// The default budget is 5120 tokens; 6000 words overflow it while staying
	// inside the ernie_speed budget.
	msgs := []ChatMessage{
		wordMessage(RoleUser, 6000),
		{Role: RoleUser, Content: "tail"},
	}
	if got := truncateMessages("/chat/some_custom_deploy", msgs); len(got) != 1 {
		t.Errorf("expected default budget to drop the head, got %d messages", len(got))
	}
	if got := truncateMessages("/chat/ernie_speed", msgs); len(got) != 2 {
		t.Errorf("expected ernie_speed budget to keep both, got %d messages", len(got))
	}
}

func TestLimitFor(t *testing.T) {
	if lim := limitFor("/chat/ernie-speed-128k"); lim.tokens != 126976 {
		t.Errorf("expected the 128k token budget, got %d", lim.tokens)
	}
	if lim := limitFor("/chat/nonexistent"); lim != defaultInputLimit {
		t.Errorf("expected the default budget, got %+v", lim)
	}
}
