// Package routing selects the upstream model for a chat request, either
// from an explicit stage header, a direct model request, or by inferring
// the stage from the conversation content.
package routing

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	cfx "github.com/cfx-labs/cfx/internal"
)

// Stage classifies a request for model selection.
type Stage string

const (
	StagePlan   Stage = "plan"
	StageCode   Stage = "code"
	StageReview Stage = "review"
	StageDirect Stage = "direct"
)

// directTemperature is the fixed sampling temperature for direct mode.
const directTemperature = 0.3

// ParseStage parses an X-CFX-Stage header value. Unknown or empty values
// return false; callers fall back to content inference.
func ParseStage(s string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StagePlan:
		return StagePlan, true
	case StageCode:
		return StageCode, true
	case StageReview:
		return StageReview, true
	case StageDirect:
		return StageDirect, true
	}
	return "", false
}

// Binding is the model and generation parameters configured for a stage.
type Binding struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	FallbackModels []string
}

// Direct holds the direct-mode model allowlist and token cap.
type Direct struct {
	AllowedModels []string
	MaxTokensCap  int
}

// Allowed reports whether model may be requested in direct mode.
func (d Direct) Allowed(model string) bool {
	return slices.Contains(d.AllowedModels, model)
}

// Config binds stages to models.
type Config struct {
	Stages map[Stage]Binding
	Direct Direct
}

// Result is a routing decision.
type Result struct {
	Stage       Stage
	Model       string
	MaxTokens   int
	Temperature float64
	Inferred    bool
}

// Inferrer guesses a stage from conversation content. Implementations
// must be pure so that routing stays deterministic for fixed inputs.
type Inferrer interface {
	Infer(messages []cfx.Message) Stage
}

// Router decides the target model and generation parameters for a request.
type Router struct {
	cfg   Config
	infer Inferrer
}

// NewRouter creates a Router using keyword-based stage inference.
func NewRouter(cfg Config) *Router {
	return &Router{cfg: cfg, infer: NewKeywordInferrer()}
}

// NewRouterWithInferrer creates a Router with a custom inference strategy.
func NewRouterWithInferrer(cfg Config, inf Inferrer) *Router {
	return &Router{cfg: cfg, infer: inf}
}

// routeError is a client-facing routing failure. It matches
// ErrInvalidRequest so transport code maps it to HTTP 400.
type routeError string

func (e routeError) Error() string { return string(e) }

func (e routeError) Is(target error) bool { return target == cfx.ErrInvalidRequest }

// Route decides the model for a request.
//
// Priority: an explicit "direct" header uses the requested model if it is
// on the allowlist; any other explicit header uses that stage's binding;
// otherwise the stage is inferred from the messages. maxTokens is the
// client-requested value, 0 when absent; the effective value never exceeds
// the stage budget or the direct-mode cap.
func (r *Router) Route(stageHeader, requestedModel string, messages []cfx.Message, maxTokens int) (Result, error) {
	stage, explicit := ParseStage(stageHeader)
	if stageHeader != "" && !explicit {
		slog.Warn("invalid stage header", "value", stageHeader)
	}

	if stage == StageDirect {
		if requestedModel == "" {
			return Result{}, routeError("Direct mode requires a model to be specified")
		}
		if !r.cfg.Direct.Allowed(requestedModel) {
			return Result{}, routeError(fmt.Sprintf(
				"Model '%s' is not allowed in direct mode. Allowed models: %s",
				requestedModel, strings.Join(r.cfg.Direct.AllowedModels, ", ")))
		}
		eff := r.cfg.Direct.MaxTokensCap
		if maxTokens > 0 && maxTokens < eff {
			eff = maxTokens
		}
		return Result{
			Stage:       StageDirect,
			Model:       requestedModel,
			MaxTokens:   eff,
			Temperature: directTemperature,
		}, nil
	}

	inferred := false
	if !explicit {
		stage = r.infer.Infer(messages)
		inferred = true
	}

	b, ok := r.cfg.Stages[stage]
	if !ok {
		return Result{}, routeError(fmt.Sprintf("No configuration found for stage: %s", stage))
	}
	eff := b.MaxTokens
	if maxTokens > 0 && maxTokens < eff {
		eff = maxTokens
	}
	return Result{
		Stage:       stage,
		Model:       b.Model,
		MaxTokens:   eff,
		Temperature: b.Temperature,
		Inferred:    inferred,
	}, nil
}

// Fallbacks returns the configured fallback models for a stage, nil for
// direct mode or unknown stages.
func (r *Router) Fallbacks(stage Stage) []string {
	if b, ok := r.cfg.Stages[stage]; ok {
		return b.FallbackModels
	}
	return nil
}
