package compressor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"persona-chat/internal/provider"
)

type fakeSummarizer struct {
	calls     int
	gotOlder  []provider.Message
	gotSystem string
	summary   string
	err       error
}

func (f *fakeSummarizer) Summarize(_ context.Context, messages []provider.Message, systemPrompt string) (string, error) {
	f.calls++
	f.gotOlder = messages
	f.gotSystem = systemPrompt
	return f.summary, f.err
}

// buildHistory 生成 1 条 system + n 条交替的对话消息
func buildHistory(n int, withSystem bool) []provider.Message {
	var h []provider.Message
	if withSystem {
		h = append(h, provider.Message{Role: "system", Content: "persona"})
	}
	for i := 1; i <= n; i++ {
		role := "user"
		if i%2 == 0 {
			role = "assistant"
		}
		h = append(h, provider.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return h
}

func TestCompressShortHistoryUnchanged(t *testing.T) {
	for _, n := range []int{0, 1, 5, 9} {
		s := &fakeSummarizer{summary: "unused"}
		c := New(s)
		history := buildHistory(n, true)

		res := c.Compress(context.Background(), history)
		if s.calls != 0 {
			t.Errorf("n=%d: summarizer called %d times", n, s.calls)
		}
		if res.Compressed || res.Summary != "" {
			t.Errorf("n=%d: unexpected result %+v", n, res)
		}
		if len(res.Messages) != len(history) {
			t.Fatalf("n=%d: length changed %d -> %d", n, len(history), len(res.Messages))
		}
		for i := range history {
			if res.Messages[i] != history[i] {
				t.Errorf("n=%d: message %d changed", n, i)
			}
		}
	}
}

func TestCompressTwelveMessages(t *testing.T) {
	s := &fakeSummarizer{summary: "they greeted each other"}
	c := New(s, WithMaxMessages(10))
	history := buildHistory(11, true)

	res := c.Compress(context.Background(), history)

	if s.calls != 1 {
		t.Fatalf("want one summarize call, got %d", s.calls)
	}
	if s.gotSystem != "persona" {
		t.Errorf("system prompt passed to summarizer = %q", s.gotSystem)
	}
	if len(s.gotOlder) != 2 || s.gotOlder[1].Content != "m1" {
		t.Errorf("older part = %+v", s.gotOlder)
	}

	want := []provider.Message{
		{Role: "system", Content: "persona"},
		{Role: "system", Content: "Previous conversation summary: they greeted each other"},
	}
	want = append(want, history[2:]...)

	if len(res.Messages) != len(want) {
		t.Fatalf("want %d messages, got %d", len(want), len(res.Messages))
	}
	for i := range want {
		if res.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, res.Messages[i], want[i])
		}
	}
	if res.Summary != "they greeted each other" || !res.Compressed {
		t.Errorf("unexpected result metadata: %+v", res)
	}
}

func TestCompressLengthInvariant(t *testing.T) {
	for _, withSystem := range []bool{true, false} {
		for n := 11; n <= 40; n += 7 {
			s := &fakeSummarizer{summary: "s"}
			c := New(s)
			history := buildHistory(n, withSystem)

			res := c.Compress(context.Background(), history)

			wantLen := 1 + DefaultMaxMessages
			if withSystem {
				wantLen++
			}
			if len(res.Messages) != wantLen {
				t.Fatalf("system=%v n=%d: want %d messages, got %d", withSystem, n, wantLen, len(res.Messages))
			}

			tail := res.Messages[len(res.Messages)-DefaultMaxMessages:]
			orig := history[len(history)-DefaultMaxMessages:]
			for i := range orig {
				if tail[i] != orig[i] {
					t.Errorf("system=%v n=%d: tail[%d] = %+v, want %+v", withSystem, n, i, tail[i], orig[i])
				}
			}
			if !withSystem && res.Messages[0].Content != SummaryPrefix+"s" {
				t.Errorf("without system the summary should lead, got %+v", res.Messages[0])
			}
		}
	}
}

func TestCompressDegradesOnFailure(t *testing.T) {
	s := &fakeSummarizer{err: errors.New("provider down")}
	c := New(s, WithMaxMessages(4))
	history := buildHistory(9, true)

	res := c.Compress(context.Background(), history)

	if len(res.Messages) != 4 {
		t.Fatalf("want tail of 4, got %d", len(res.Messages))
	}
	for i, m := range res.Messages {
		if m != history[len(history)-4+i] {
			t.Errorf("message %d = %+v", i, m)
		}
		if m.Role == "system" {
			t.Error("summary or system must not be sent after a failed summarization")
		}
	}
	if res.Summary != "" {
		t.Errorf("summary should be empty on failure, got %q", res.Summary)
	}
}

func TestWithMaxMessagesIgnoresInvalid(t *testing.T) {
	if got := New(nil, WithMaxMessages(0)).MaxMessages(); got != DefaultMaxMessages {
		t.Errorf("MaxMessages = %d", got)
	}
}
