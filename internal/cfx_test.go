package cfx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{name: "non-empty", id: "cfx-0123456789abcdef0123456789abcdef"},
		{name: "empty string", id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := ContextWithRequestID(context.Background(), tt.id)
			if got := RequestIDFromContext(ctx); got != tt.id {
				t.Errorf("RequestIDFromContext = %q, want %q", got, tt.id)
			}
		})
	}

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := RequestIDFromContext(context.Background()); got != "" {
			t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
		}
	})
}

func TestContextWithPrincipal_PrincipalFromContext(t *testing.T) {
	t.Parallel()

	t.Run("set on bare context", func(t *testing.T) {
		t.Parallel()
		p := &Principal{UserID: "user-1", APIKeyID: 7, KeyPrefix: "cfx_abc1"}
		ctx := ContextWithPrincipal(context.Background(), p)
		if got := PrincipalFromContext(ctx); got != p {
			t.Errorf("PrincipalFromContext = %v, want %v", got, p)
		}
	})

	t.Run("mutates existing meta", func(t *testing.T) {
		t.Parallel()
		// Simulate middleware: requestID set first, principal added later.
		ctx := ContextWithRequestID(context.Background(), "cfx-req")
		p := &Principal{UserID: "user-2"}
		ctx2 := ContextWithPrincipal(ctx, p)
		if ctx2 != ctx {
			t.Error("ContextWithPrincipal should return same ctx when meta already present")
		}
		if got := PrincipalFromContext(ctx2); got != p {
			t.Errorf("PrincipalFromContext = %v, want %v", got, p)
		}
		if got := RequestIDFromContext(ctx2); got != "cfx-req" {
			t.Errorf("RequestIDFromContext after ContextWithPrincipal = %q, want cfx-req", got)
		}
	})

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := PrincipalFromContext(context.Background()); got != nil {
			t.Errorf("PrincipalFromContext on bare ctx = %v, want nil", got)
		}
	})
}

func TestChatRequestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("string stop becomes list", func(t *testing.T) {
		t.Parallel()
		req := &ChatRequest{Stop: json.RawMessage(`"END"`)}
		req.Normalize()
		if got, want := string(req.Stop), `["END"]`; got != want {
			t.Errorf("Stop = %s, want %s", got, want)
		}
	})

	t.Run("list stop unchanged", func(t *testing.T) {
		t.Parallel()
		req := &ChatRequest{Stop: json.RawMessage(`["a","b"]`)}
		req.Normalize()
		if got, want := string(req.Stop), `["a","b"]`; got != want {
			t.Errorf("Stop = %s, want %s", got, want)
		}
	})

	t.Run("absent stop unchanged", func(t *testing.T) {
		t.Parallel()
		req := &ChatRequest{}
		req.Normalize()
		if req.Stop != nil {
			t.Errorf("Stop = %s, want nil", req.Stop)
		}
	})
}

func TestChatRequestValidate(t *testing.T) {
	t.Parallel()

	intp := func(v int) *int { return &v }
	floatp := func(v float64) *float64 { return &v }
	msgs := []Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}

	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{name: "minimal valid", req: ChatRequest{Messages: msgs}},
		{name: "all fields valid", req: ChatRequest{
			Messages: msgs, MaxTokens: intp(4096), Temperature: floatp(0.7),
			TopP: floatp(0.9), N: intp(2), PresencePenalty: floatp(-1), FrequencyPenalty: floatp(2),
		}},
		{name: "no messages", req: ChatRequest{}, wantErr: true},
		{name: "max_tokens zero", req: ChatRequest{Messages: msgs, MaxTokens: intp(0)}, wantErr: true},
		{name: "max_tokens too large", req: ChatRequest{Messages: msgs, MaxTokens: intp(128001)}, wantErr: true},
		{name: "temperature negative", req: ChatRequest{Messages: msgs, Temperature: floatp(-0.1)}, wantErr: true},
		{name: "temperature too large", req: ChatRequest{Messages: msgs, Temperature: floatp(2.1)}, wantErr: true},
		{name: "top_p too large", req: ChatRequest{Messages: msgs, TopP: floatp(1.5)}, wantErr: true},
		{name: "n too large", req: ChatRequest{Messages: msgs, N: intp(11)}, wantErr: true},
		{name: "presence_penalty out of range", req: ChatRequest{Messages: msgs, PresencePenalty: floatp(2.5)}, wantErr: true},
		{name: "frequency_penalty out of range", req: ChatRequest{Messages: msgs, FrequencyPenalty: floatp(-2.5)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("Validate() = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}
