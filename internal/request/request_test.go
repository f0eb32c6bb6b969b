package request

import "testing"

func TestInputBudgetTokens(t *testing.T) {
	cases := map[string]int{
		"gpt-5":       reasoningBudgetTokens,
		"gpt-5-mini":  reasoningBudgetTokens,
		"o1":          reasoningBudgetTokens,
		"o3-mini":     reasoningBudgetTokens,
		"gpt-4o":      defaultBudgetTokens,
		"claude-3.5":  defaultBudgetTokens,
		"ollama-llama": reasoningBudgetTokens, // any id starting with "o" counts as a reasoning model
	}
	for model, want := range cases {
		if got := InputBudgetTokens(NormalizeModelID(model)); got != want {
			t.Fatalf("InputBudgetTokens(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestNormalizeModelID(t *testing.T) {
	if got := NormalizeModelID("  GPT-5-Mini  "); got != "gpt-5-mini" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestBuildGPT5OmitsTemperature(t *testing.T) {
	call, err := Build("gpt-5", "hello world", "medium", 0.7, true)
	if err != nil {
		t.Fatal(err)
	}
	if call.Params.TemperatureSet {
		t.Fatal("expected GPT-5 family to omit temperature")
	}
	if call.Params.MaxOutputTokens != maxOutputTokensGPT5 {
		t.Fatalf("expected max output tokens %d, got %d", maxOutputTokensGPT5, call.Params.MaxOutputTokens)
	}
	if call.Params.ReasoningEffort != "medium" {
		t.Fatalf("expected reasoning effort carried through, got %q", call.Params.ReasoningEffort)
	}
}

func TestBuildNonReasoningKeepsTemperature(t *testing.T) {
	call, err := Build("gpt-4o", "hello world", "", 0.3, true)
	if err != nil {
		t.Fatal(err)
	}
	if !call.Params.TemperatureSet || call.Params.Temperature != 0.3 {
		t.Fatalf("expected temperature 0.3 to be set, got %+v", call.Params)
	}
}

func TestBuildNoTruncationForShortInput(t *testing.T) {
	call, err := Build("gpt-4o", "short input", "", 0.3, true)
	if err != nil {
		t.Fatal(err)
	}
	if call.Truncated {
		t.Fatal("short input should not be truncated")
	}
	if call.Input != "short input" {
		t.Fatalf("unexpected input: %q", call.Input)
	}
}
