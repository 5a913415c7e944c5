package tokencount

import (
	"encoding/json"
	"strings"
	"testing"

	cfx "github.com/cfx-labs/cfx/internal"
)

func TestEstimateText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty floors at one", text: "", want: 1},
		{name: "short word", text: "hi", want: 1},
		{name: "exact multiple", text: "12345678", want: 2},
		{name: "ceil division", text: "123456789", want: 3},
		{name: "long text", text: strings.Repeat("a", 400), want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateText(tt.text); got != tt.want {
				t.Errorf("EstimateText(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateMessages(t *testing.T) {
	t.Parallel()

	t.Run("empty list yields primer only", func(t *testing.T) {
		t.Parallel()
		if got := EstimateMessages(nil); got != 3 {
			t.Errorf("EstimateMessages(nil) = %d, want 3", got)
		}
	})

	t.Run("single message", func(t *testing.T) {
		t.Parallel()
		msgs := []cfx.Message{{Role: "user", Content: json.RawMessage(`"12345678"`)}}
		// 4 overhead + 1 (role "user") + 3 (content incl. quotes, 10 bytes) + 3 primer.
		if got, want := EstimateMessages(msgs), 11; got != want {
			t.Errorf("EstimateMessages = %d, want %d", got, want)
		}
	})

	t.Run("grows with message count", func(t *testing.T) {
		t.Parallel()
		one := []cfx.Message{{Role: "user", Content: json.RawMessage(`"hello"`)}}
		two := append([]cfx.Message{{Role: "system", Content: json.RawMessage(`"be brief"`)}}, one...)
		if EstimateMessages(two) <= EstimateMessages(one) {
			t.Error("estimate should grow with additional messages")
		}
	})

	t.Run("named message costs extra", func(t *testing.T) {
		t.Parallel()
		plain := []cfx.Message{{Role: "user", Content: json.RawMessage(`"hello"`)}}
		named := []cfx.Message{{Role: "user", Content: json.RawMessage(`"hello"`), Name: "alice"}}
		if EstimateMessages(named) <= EstimateMessages(plain) {
			t.Error("named message should estimate higher")
		}
	})

	t.Run("tool calls counted", func(t *testing.T) {
		t.Parallel()
		plain := []cfx.Message{{Role: "assistant", Content: json.RawMessage(`"ok"`)}}
		tooled := []cfx.Message{{
			Role:      "assistant",
			Content:   json.RawMessage(`"ok"`),
			ToolCalls: json.RawMessage(`[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{}"}}]`),
		}}
		if EstimateMessages(tooled) <= EstimateMessages(plain) {
			t.Error("tool calls should estimate higher")
		}
	})
}
