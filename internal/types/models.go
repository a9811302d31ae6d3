package types

import "fmt"

// Model is a full assistant model id.
type Model string

const (
	ModelOpus   Model = "claude-opus-4-6"
	ModelSonnet Model = "claude-sonnet-4-5-20250929"
	ModelHaiku  Model = "claude-haiku-4-5-20251001"
)

// DefaultModel is used when no model is configured or requested.
const DefaultModel = ModelSonnet

// modelAliases maps the short names accepted in config and on the CLI to
// full model ids.
var modelAliases = map[string]Model{
	"opus":   ModelOpus,
	"sonnet": ModelSonnet,
	"haiku":  ModelHaiku,
}

// tiers orders models from cheapest to most capable.
var tiers = []Model{ModelHaiku, ModelSonnet, ModelOpus}

// ResolveModel turns an alias or full model id into a Model.
func ResolveModel(name string) (Model, error) {
	if m, ok := modelAliases[name]; ok {
		return m, nil
	}
	for _, m := range tiers {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model: %q (expected opus, sonnet, haiku, or a full model id)", name)
}

// Alias returns the short name for a model, or the full id if it has none.
func (m Model) Alias() string {
	for alias, full := range modelAliases {
		if full == m {
			return alias
		}
	}
	return string(m)
}

// Upgrade returns the next higher tier, or m itself at the top.
func (m Model) Upgrade() Model {
	for i, t := range tiers {
		if t == m && i < len(tiers)-1 {
			return tiers[i+1]
		}
	}
	return m
}

// Downgrade returns the next lower tier, or m itself at the bottom.
func (m Model) Downgrade() Model {
	for i, t := range tiers {
		if t == m && i > 0 {
			return tiers[i-1]
		}
	}
	return m
}

// Tiers returns the model tiers from cheapest to most capable.
func Tiers() []Model {
	out := make([]Model, len(tiers))
	copy(out, tiers)
	return out
}

// ModelCost is USD per million tokens.
type ModelCost struct {
	InputUSD  float64
	OutputUSD float64
}

// modelCosts holds published per-model pricing used for cost estimation
// when the assistant CLI does not report a cost itself.
var modelCosts = map[Model]ModelCost{
	ModelOpus:   {InputUSD: 15.00, OutputUSD: 75.00},
	ModelSonnet: {InputUSD: 3.00, OutputUSD: 15.00},
	ModelHaiku:  {InputUSD: 0.80, OutputUSD: 4.00},
}

// Cost returns the pricing for a model, falling back to the default model's
// pricing for unknown ids.
func (m Model) Cost() ModelCost {
	if c, ok := modelCosts[m]; ok {
		return c
	}
	return modelCosts[DefaultModel]
}

// EstimateCostUSD computes the USD cost of a call from token counts.
func (m Model) EstimateCostUSD(inputTokens, outputTokens int) float64 {
	c := m.Cost()
	return float64(inputTokens)/1e6*c.InputUSD + float64(outputTokens)/1e6*c.OutputUSD
}

// averageTokensPerTask is the fallback used when the assistant CLI emits no
// usage data: roughly 4000 input and 1000 output tokens per message.
const (
	avgInputTokens  = 4000
	avgOutputTokens = 1000
)

// AverageTaskCostUSD is the fallback per-task cost estimate for a model.
func (m Model) AverageTaskCostUSD() float64 {
	return m.EstimateCostUSD(avgInputTokens, avgOutputTokens)
}

// DefaultWindowLimits are per-model messages per rolling window, matching a
// Claude Max subscription's approximate allowances. Overridable via
// quota.limits in the config file.
var DefaultWindowLimits = map[Model]int{
	ModelOpus:   45,
	ModelSonnet: 225,
	ModelHaiku:  500,
}

// Difficulty classifies how hard a task looks, driving the base model tier.
type Difficulty string

const (
	DifficultySimple  Difficulty = "simple"
	DifficultyMedium  Difficulty = "medium"
	DifficultyComplex Difficulty = "complex"
)

// BaseModel maps a difficulty to its default model tier.
func (d Difficulty) BaseModel() Model {
	switch d {
	case DifficultySimple:
		return ModelHaiku
	case DifficultyComplex:
		return ModelOpus
	default:
		return ModelSonnet
	}
}
