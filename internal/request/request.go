// Package request implements the per-call request factory:
// model-id normalization, input budget selection, last-N-token truncation,
// and the GPT-5/reasoning-model parameter split.
package request

import (
	"fmt"
	"strings"

	"github.com/ragcore/engine/internal/chunking"
)

// reasoningBudgetTokens is the input budget for GPT-5-family and "o"-prefixed
// reasoning models.
const reasoningBudgetTokens = 7000

// defaultBudgetTokens is the input budget for every other model.
const defaultBudgetTokens = 100000

// maxOutputTokensGPT5 is the fixed completion budget for GPT-5-family calls.
const maxOutputTokensGPT5 = 4000

// truncationNotice is prefixed to input that was truncated to fit budget.
const truncationNotice = "[context truncated to fit model input limit]\n\n"

// NormalizeModelID lower-cases and trims a provider-supplied model id.
func NormalizeModelID(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

// IsGPT5Family reports whether the normalized model id belongs to the GPT-5
// family (id starts with "gpt-5").
func IsGPT5Family(normalizedModel string) bool {
	return strings.HasPrefix(normalizedModel, "gpt-5")
}

// IsReasoningModel reports whether the normalized model id identifies a
// reasoning model (id starts with "o", e.g. o1/o3/o4-mini).
func IsReasoningModel(normalizedModel string) bool {
	return strings.HasPrefix(normalizedModel, "o")
}

// InputBudgetTokens returns the input-character (token) budget for a
// normalized model id: 7,000 for GPT-5-family or reasoning models, 100,000
// otherwise.
func InputBudgetTokens(normalizedModel string) int {
	if IsGPT5Family(normalizedModel) || IsReasoningModel(normalizedModel) {
		return reasoningBudgetTokens
	}
	return defaultBudgetTokens
}

// Params holds the model-specific parameters a Call carries. Temperature is
// only meaningful when TemperatureSet is true (GPT-5-family omits it
// entirely).
type Params struct {
	MaxOutputTokens int
	ReasoningEffort string
	Temperature     float32
	TemperatureSet  bool
}

// Call is a fully-prepared provider request: a normalized model id, a
// (possibly truncated) input string, and the model-specific parameter set.
type Call struct {
	Model     string
	Input     string
	Truncated bool
	Params    Params
}

// Build prepares a Call for model, truncating input to the model's input
// budget (keeping the last N tokens and prefixing a truncation notice) and
// selecting the GPT-5 or general-purpose parameter set. reasoningEffort and
// temperature are the caller's configured defaults; temperatureSet indicates
// whether a finite temperature was configured at all.
func Build(model, input string, reasoningEffort string, temperature float32, temperatureSet bool) (Call, error) {
	normalized := NormalizeModelID(model)
	budget := InputBudgetTokens(normalized)

	truncated, wasTruncated, err := truncate(input, budget)
	if err != nil {
		return Call{}, fmt.Errorf("request: truncate input: %w", err)
	}

	call := Call{
		Model:     normalized,
		Input:     truncated,
		Truncated: wasTruncated,
	}

	if IsGPT5Family(normalized) {
		call.Params = Params{
			MaxOutputTokens: maxOutputTokensGPT5,
			ReasoningEffort: reasoningEffort,
		}
		return call, nil
	}

	call.Params = Params{
		Temperature:    temperature,
		TemperatureSet: temperatureSet,
	}
	return call, nil
}

// truncate keeps the last budget tokens of input, prefixing a truncation
// notice when truncation occurred.
func truncate(input string, budget int) (string, bool, error) {
	count, err := chunking.CountTokens(input)
	if err != nil {
		return "", false, err
	}
	if count <= budget {
		return input, false, nil
	}

	kept, err := chunking.KeepLastTokens(input, budget)
	if err != nil {
		return "", false, err
	}
	return truncationNotice + kept, true, nil
}
