package routing

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	cfx "github.com/cfx-labs/cfx/internal"
)

// Default keyword sets for stage inference (English + Turkish).
var (
	defaultPlanKeywords = []string{
		"plan", "design", "architect", "spec", "specification",
		"how should", "what's the best way", "structure",
		"approach", "strategy", "outline", "requirements",
		"tasarla", "planla", "mimari", "nasıl yapmalı",
	}

	defaultCodeKeywords = []string{
		"implement", "code", "write", "create", "build",
		"fix", "refactor", "add", "update", "modify",
		"function", "class", "method", "api",
		"yaz", "kodla", "oluştur", "düzelt", "ekle",
	}

	defaultReviewKeywords = []string{
		"review", "check", "analyze", "audit", "security",
		"vulnerability", "bug", "issue", "problem",
		"incele", "kontrol", "analiz", "güvenlik",
	}

	questionPrefixes = []string{"how", "what", "nasıl", "ne"}
)

// KeywordInferrer infers a stage by keyword matching on the last user
// message. Review keywords are checked first (most specific), then code,
// then plan; ambiguous content defaults to plan.
type KeywordInferrer struct {
	plan   []string
	code   []string
	review []string
}

// NewKeywordInferrer creates an inferrer with the default keyword sets.
func NewKeywordInferrer() *KeywordInferrer {
	return &KeywordInferrer{
		plan:   defaultPlanKeywords,
		code:   defaultCodeKeywords,
		review: defaultReviewKeywords,
	}
}

// Infer returns the stage for the last user message in messages.
func (k *KeywordInferrer) Infer(messages []cfx.Message) Stage {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = ContentText(messages[i].Content)
			break
		}
	}
	if last == "" {
		return StagePlan
	}

	lower := strings.ToLower(last)

	if containsAny(lower, k.review) {
		return StageReview
	}
	if containsAny(lower, k.code) {
		return StageCode
	}
	if containsAny(lower, k.plan) {
		return StagePlan
	}

	// Fenced code blocks or Python-looking content lean code.
	if strings.Contains(last, "```") || strings.Contains(lower, "def ") {
		return StageCode
	}

	// Leading interrogatives lean plan.
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p) {
			return StagePlan
		}
	}

	return StagePlan
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// ContentText extracts the plain text of an OpenAI message content field,
// which is either a JSON string or a multipart array of content parts.
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v := gjson.ParseBytes(raw)
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var b strings.Builder
		for _, part := range v.Array() {
			if t := part.Get("text"); t.Exists() {
				b.WriteString(t.String())
			}
		}
		return b.String()
	}
	return ""
}
