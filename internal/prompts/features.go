package prompts

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"daybook/internal/llm"
	"daybook/internal/models"
)

const companionIntro = `You are a warm, perceptive journaling companion. You help people reflect on their days with curiosity and without judgment. Never diagnose, never moralize, and never invent details the writer did not share.`

// personalize appends locale and style instructions to a system prompt
func personalize(base string, p Preferences) string {
	var b strings.Builder
	b.WriteString(base)

	locale := p.Locale
	if locale == "" {
		locale = "en-US"
	}
	fmt.Fprintf(&b, "\n\nWrite in the language and conventions of locale %s.", locale)

	if p.SupportStyle != "" {
		fmt.Fprintf(&b, " The writer prefers a %s style of support.", p.SupportStyle)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, " Use a %s tone.", p.Tone)
	}
	return b.String()
}

func budget(in Input) int {
	return llm.ContextWindowCharacters(in.Model)
}

func currentEntry(in Input) string {
	if in.Current == nil {
		return ""
	}
	return Truncate(FormatEntry(*in.Current), budget(in))
}

// withinBudget fills one model budget with labeled sections in order. Each
// section gets what the earlier ones left; a section whose label no longer
// fits is dropped. The combined user text never exceeds the budget.
func withinBudget(in Input, sections ...[2]string) []string {
	remaining := budget(in)
	out := make([]string, 0, len(sections))
	for _, sec := range sections {
		label, text := sec[0], sec[1]
		room := remaining - utf8.RuneCountInString(label)
		if text == "" || room <= 0 {
			continue
		}
		part := label + Truncate(text, room)
		remaining -= utf8.RuneCountInString(part)
		out = append(out, part)
	}
	return out
}

// GeneratePrompts asks for fresh journaling questions as a JSON array
func GeneratePrompts(in Input) []llm.Message {
	system := personalize(companionIntro+`

Suggest three short, open-ended journaling prompts tailored to the writer's recent entries. Respond with a JSON array of strings and nothing else.`, in.Prefs)

	history := FormatEntries(in.Entries, budget(in))
	if history == "" {
		history = "(no previous entries)"
	}
	return []llm.Message{
		llm.System(system),
		llm.User("Recent entries:\n\n" + history),
	}
}

// WeeklyReport summarizes a week of entries as markdown
func WeeklyReport(in Input) []llm.Message {
	system := personalize(companionIntro+`

Write a weekly reflection for the writer based on their entries. Use short markdown sections: "Highlights", "Patterns", "Something to carry forward". Address the writer directly.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User("This week's entries:\n\n" + FormatEntries(in.Entries, budget(in))),
	}
}

// ExtractEntities asks for emotions, people, places and topics as JSON
func ExtractEntities(in Input) []llm.Message {
	system := personalize(`You extract structured data from journal entries. Respond with a JSON object with exactly these keys: "emotions", "people", "places", "topics". Each value is an array of short lowercase strings. Use empty arrays when nothing applies.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User(currentEntry(in)),
	}
}

// CompressEntries condenses history into a compact memory
func CompressEntries(in Input) []llm.Message {
	system := `You compress journal history into a dense factual memory for later reflection. Keep names, recurring themes, goals and notable events. Respond with a JSON object {"summary": string}.`

	return []llm.Message{
		llm.System(system),
		llm.User(FormatEntries(in.Entries, budget(in))),
	}
}

// DigDeeper asks one follow-up question about the entry in progress
func DigDeeper(in Input) []llm.Message {
	system := personalize(companionIntro+`

Read the entry in progress and ask exactly one thoughtful follow-up question that helps the writer go deeper. Reply with the question only.`, in.Prefs)

	// The entry in progress is served first; history gets what is left
	var current, history string
	if in.Current != nil {
		current = FormatEntry(*in.Current)
	}
	if len(in.Entries) > 0 {
		history = FormatEntries(in.Entries, budget(in))
	}
	parts := withinBudget(in,
		[2]string{"Entry in progress:\n\n", current},
		[2]string{"Earlier context:\n\n", history},
	)

	if len(parts) == 0 {
		parts = []string{"Entry in progress:\n\n"}
	}

	msgs := []llm.Message{llm.System(system)}
	for i := len(parts) - 1; i >= 0; i-- {
		msgs = append(msgs, llm.User(parts[i]))
	}
	return msgs
}

// SummarizeEntry asks for a title and short summary as JSON
func SummarizeEntry(in Input) []llm.Message {
	system := personalize(`You summarize a single journal entry. Respond with a JSON object {"title": string, "content": string}. The title is at most six words. The content is two or three sentences in the second person.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User(currentEntry(in)),
	}
}

// GenerateTitle asks for a plain title
func GenerateTitle(in Input) []llm.Message {
	system := personalize(`Give this journal entry a title of at most six words. Reply with the title only, without quotes.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User(currentEntry(in)),
	}
}

// SuggestTopics proposes topic tags as JSON
func SuggestTopics(in Input) []llm.Message {
	system := `You suggest topic tags for a journal. Respond with a JSON object {"topics": [string]} with at most five short tags. Prefer reusing existing tags when they fit.`

	var b strings.Builder
	if existing := in.Extra["existingTopics"]; existing != "" {
		fmt.Fprintf(&b, "Existing tags: %s\n\n", existing)
	}
	if in.Current != nil {
		b.WriteString(currentEntry(in))
	} else {
		b.WriteString(FormatEntries(in.Entries, budget(in)))
	}

	return []llm.Message{
		llm.System(system),
		llm.User(b.String()),
	}
}

// templateQuestions lists the prompts of the template, for overrides
func templateQuestions(t *models.ComposeTemplate) string {
	if t == nil {
		return ""
	}
	qs := make([]string, 0, len(t.Prompts))
	for _, p := range t.Prompts {
		qs = append(qs, "- "+p.Text)
	}
	return strings.Join(qs, "\n")
}
