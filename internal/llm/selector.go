package llm

import (
	"errors"
	"fmt"
)

// ContextKey identifies an AI feature for model selection
type ContextKey string

const (
	ContextGeneratePrompts ContextKey = "generatePrompts"
	ContextWeeklyReport    ContextKey = "weeklyReport"
	ContextExtractEntities ContextKey = "extractEntities"
	ContextCompressEntries ContextKey = "compressEntries"
	ContextDigDeeper       ContextKey = "digDeeper"
	ContextSummarizeEntry  ContextKey = "summarizeEntry"
	ContextGenerateTitle   ContextKey = "generateTitle"
	ContextSuggestTopics   ContextKey = "suggestTopics"
)

// Default model ids
const (
	DefaultSpeedModel   = "gpt-4o-mini"
	DefaultPremiumModel = "gpt-4o"
)

// ErrUnknownContext is a configuration error: the key has no model mapping
var ErrUnknownContext = errors.New("unknown model context")

// modelChoice is either a single model or a [free, premium] pair
type modelChoice struct {
	free    string
	premium string
}

// SelectOptions carries per-request selection inputs.
// EmergencyDowngrade is read from config at the request boundary.
type SelectOptions struct {
	EmergencyDowngrade   bool
	AdvancedModelEnabled *bool
}

// Selector picks the model for a feature and caller tier
type Selector struct {
	speed   string
	choices map[ContextKey]modelChoice
}

// NewSelector builds the context table from the speed and premium model ids
func NewSelector(speedModel, premiumModel string) *Selector {
	if speedModel == "" {
		speedModel = DefaultSpeedModel
	}
	if premiumModel == "" {
		premiumModel = DefaultPremiumModel
	}

	single := modelChoice{free: speedModel, premium: speedModel}
	tiered := modelChoice{free: speedModel, premium: premiumModel}

	return &Selector{
		speed: speedModel,
		choices: map[ContextKey]modelChoice{
			ContextGeneratePrompts: tiered,
			ContextWeeklyReport:    tiered,
			ContextDigDeeper:       tiered,
			ContextSummarizeEntry:  tiered,
			ContextExtractEntities: single,
			ContextCompressEntries: single,
			ContextGenerateTitle:   single,
			ContextSuggestTopics:   single,
		},
	}
}

// SpeedModel returns the cheapest configured model
func (s *Selector) SpeedModel() string {
	return s.speed
}

// Keys lists every mapped context key
func (s *Selector) Keys() []ContextKey {
	keys := make([]ContextKey, 0, len(s.choices))
	for k := range s.choices {
		keys = append(keys, k)
	}
	return keys
}

// Select returns the model id for key.
// Unknown keys always fail, even when the emergency downgrade is active.
func (s *Selector) Select(key ContextKey, premium bool, opts SelectOptions) (string, error) {
	choice, ok := s.choices[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, key)
	}

	// Downgrade must be checked before the dig deeper override
	if opts.EmergencyDowngrade && !premium {
		return s.speed, nil
	}

	if key == ContextDigDeeper && opts.AdvancedModelEnabled != nil && !*opts.AdvancedModelEnabled {
		return s.speed, nil
	}

	if premium {
		return choice.premium, nil
	}
	return choice.free, nil
}

// MaxContextWindowCharacters bounds the formatted entry text per model
var MaxContextWindowCharacters = map[string]int{
	"gpt-4o-mini":   360_000,
	"gpt-4o":        360_000,
	"gpt-4.1-mini":  2_800_000,
	"gpt-4.1":       2_800_000,
	"gpt-3.5-turbo": 45_000,
}

// DefaultContextWindowCharacters applies to models missing from the table
const DefaultContextWindowCharacters = 45_000

// ContextWindowCharacters returns the character budget for model
func ContextWindowCharacters(model string) int {
	if n, ok := MaxContextWindowCharacters[model]; ok {
		return n
	}
	return DefaultContextWindowCharacters
}
