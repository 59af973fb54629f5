package prompts

import (
	"daybook/internal/llm"
)

// Template ids with dedicated prompts
const (
	TemplateGratitude   = "gratitude"
	TemplateMorningPage = "morning-pages"
	TemplateFreeform    = "freeform"
)

func registerBuiltinOverrides(c *Composer) {
	c.Override(TemplateGratitude, llm.ContextGeneratePrompts, gratitudePrompts)
	c.Override(TemplateGratitude, llm.ContextDigDeeper, gratitudeDigDeeper)
	c.Override(TemplateMorningPage, llm.ContextSummarizeEntry, morningPagesSummary)
}

func gratitudePrompts(in Input) []llm.Message {
	system := personalize(companionIntro+`

The writer keeps a gratitude journal. Suggest three prompts that invite specific, concrete gratitude (people, small moments, sensations) and avoid repeating themes from recent entries. Respond with a JSON array of strings and nothing else.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User("Recent entries:\n\n" + FormatEntries(in.Entries, budget(in))),
	}
}

func gratitudeDigDeeper(in Input) []llm.Message {
	system := personalize(companionIntro+`

The writer is listing things they are grateful for. Ask one follow-up question about why one of those things mattered today. Reply with the question only.`, in.Prefs)

	var current, questions string
	if in.Current != nil {
		current = FormatEntry(*in.Current)
	}
	if qs := templateQuestions(in.Template); qs != "" {
		questions = qs + "\n\n"
	}
	parts := withinBudget(in,
		[2]string{"Entry in progress:\n\n", current},
		[2]string{"Template questions:\n", questions},
	)

	// Questions read before the entry they frame
	user := "Entry in progress:\n\n"
	switch len(parts) {
	case 1:
		user = parts[0]
	case 2:
		user = parts[1] + parts[0]
	}
	return []llm.Message{
		llm.System(system),
		llm.User(user),
	}
}

func morningPagesSummary(in Input) []llm.Message {
	system := personalize(`You summarize stream-of-consciousness morning pages. Pull out the intentions and worries for the day. Respond with a JSON object {"title": string, "content": string}. The title is at most six words.`, in.Prefs)

	return []llm.Message{
		llm.System(system),
		llm.User(currentEntry(in)),
	}
}
