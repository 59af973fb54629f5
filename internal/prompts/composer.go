package prompts

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"daybook/internal/llm"
	"daybook/internal/models"
)

// Preferences personalize system prompts
type Preferences struct {
	Locale       string
	SupportStyle string
	Tone         string
}

// Input is everything a feature prompt may draw on
type Input struct {
	Model    string
	Prefs    Preferences
	Entries  []models.Entry // history, any order
	Current  *models.Entry  // entry being composed, if any
	Template *models.ComposeTemplate
	Extra    map[string]string // feature specific values (e.g. existing topics)
}

// PromptFunc builds the messages for one feature call
type PromptFunc func(in Input) []llm.Message

type overrideKey struct {
	templateID string
	feature    llm.ContextKey
}

// Composer resolves a feature to its prompt function, preferring a
// template-specific override when one is registered.
type Composer struct {
	defaults  map[llm.ContextKey]PromptFunc
	overrides map[overrideKey]PromptFunc
}

// NewComposer returns a composer with every built-in feature and override
func NewComposer() *Composer {
	c := &Composer{
		defaults: map[llm.ContextKey]PromptFunc{
			llm.ContextGeneratePrompts: GeneratePrompts,
			llm.ContextWeeklyReport:    WeeklyReport,
			llm.ContextExtractEntities: ExtractEntities,
			llm.ContextCompressEntries: CompressEntries,
			llm.ContextDigDeeper:       DigDeeper,
			llm.ContextSummarizeEntry:  SummarizeEntry,
			llm.ContextGenerateTitle:   GenerateTitle,
			llm.ContextSuggestTopics:   SuggestTopics,
		},
		overrides: make(map[overrideKey]PromptFunc),
	}
	registerBuiltinOverrides(c)
	return c
}

// Override registers fn for feature when composing for templateID
func (c *Composer) Override(templateID string, feature llm.ContextKey, fn PromptFunc) {
	c.overrides[overrideKey{templateID, feature}] = fn
}

// Resolve returns the prompt function for feature, falling back to the
// default when templateID has no override.
func (c *Composer) Resolve(templateID string, feature llm.ContextKey) (PromptFunc, error) {
	if templateID != "" {
		if fn, ok := c.overrides[overrideKey{templateID, feature}]; ok {
			return fn, nil
		}
	}
	fn, ok := c.defaults[feature]
	if !ok {
		return nil, fmt.Errorf("%w: no prompt for %q", llm.ErrUnknownContext, feature)
	}
	return fn, nil
}

// Compose builds the messages for feature
func (c *Composer) Compose(feature llm.ContextKey, in Input) ([]llm.Message, error) {
	templateID := ""
	if in.Template != nil {
		templateID = in.Template.ID
	} else if in.Current != nil {
		templateID = in.Current.TemplateID
	}

	fn, err := c.Resolve(templateID, feature)
	if err != nil {
		return nil, err
	}
	return fn(in), nil
}

// FormatEntry renders one entry as dated question/response pairs
func FormatEntry(e models.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", entryDay(e))
	if e.Summary != nil && e.Summary.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", e.Summary.Title)
	}
	for _, r := range e.Responses {
		text := r.Text()
		if text == "" {
			continue
		}
		if r.Question != "" {
			fmt.Fprintf(&b, "Q: %s\n", r.Question)
		}
		fmt.Fprintf(&b, "A: %s\n", text)
	}
	return b.String()
}

// FormatEntries renders entries oldest first and truncates the result to
// maxChars runes. Over-budget text is cut, never rejected.
func FormatEntries(entries []models.Entry, maxChars int) string {
	sorted := make([]models.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	parts := make([]string, 0, len(sorted))
	for _, e := range sorted {
		parts = append(parts, FormatEntry(e))
	}
	return Truncate(strings.Join(parts, "\n"), maxChars)
}

// Truncate cuts s to at most maxChars runes
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

func entryDay(e models.Entry) string {
	if e.Day != "" {
		return e.Day
	}
	return models.DayKey(e.Date)
}
