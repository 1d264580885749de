package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"mini":   {Input: 0.15, Output: 0.60},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
	}
}

func TestCost(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		prompt     int
		completion int
		want       float64
	}{
		{
			name: "mini simple", model: "mini",
			prompt: 1000000, completion: 1000000,
			want: 0.15 + 0.60,
		},
		{
			name: "prompt and completion priced independently", model: "sonnet",
			prompt: 500000, completion: 100000,
			want: 1.50 + 1.50,
		},
		{
			name: "unknown model returns 0", model: "unknown",
			prompt: 1000000, completion: 1000000,
			want: 0,
		},
		{
			name: "zero tokens returns 0", model: "mini",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Cost(tt.model, tt.prompt, tt.completion), 1e-9)
		})
	}
}

func TestUsage(t *testing.T) {
	calc := NewCalculator(testRates())

	u := calc.Usage("sonnet", 2000, 1000, 0)
	require.NotNil(t, u)
	assert.Equal(t, 2000, u.PromptTokens)
	assert.Equal(t, 1000, u.CompletionTokens)
	assert.Equal(t, 3000, u.TotalTokens)
	assert.InDelta(t, 0.006+0.015, u.TotalCost, 1e-9)
	assert.Equal(t, "USD", u.Currency)

	u = calc.Usage("sonnet", 10, 5, 20)
	assert.Equal(t, 20, u.TotalTokens)
}

func TestUsage_UnknownModelIsZeroCost(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	u := calc.Usage("some/unpriced-model", 12345, 6789, 0)
	assert.Zero(t, u.TotalCost)
	assert.Equal(t, 12345+6789, u.TotalTokens)
	assert.False(t, calc.Known("some/unpriced-model"))
}

func TestNilCalculator(t *testing.T) {
	var calc *Calculator
	assert.Zero(t, calc.Cost("mini", 10, 10))
	assert.False(t, calc.Known("mini"))
}

func TestMerge(t *testing.T) {
	base := testRates()
	merged := base.Merge(map[string]ModelRate{
		"mini":  {Input: 1, Output: 2},
		"extra": {Input: 3, Output: 4},
	})
	assert.Equal(t, ModelRate{Input: 1, Output: 2}, merged.Models["mini"])
	assert.Equal(t, ModelRate{Input: 3, Output: 4}, merged.Models["extra"])
	assert.Equal(t, ModelRate{Input: 0.15, Output: 0.60}, base.Models["mini"], "merge must not mutate the receiver")
}

func TestDefaultRates_KnownModels(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	for _, m := range []string{"openai/gpt-4o-mini", "gemini-2.5-flash", "claude-sonnet-4-5-20250929"} {
		assert.True(t, calc.Known(m), m)
	}
}
