package models

// ComposeTemplate is a script of prompts defining a guided journaling flow.
// Templates are configuration data and never change at runtime.
type ComposeTemplate struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Prompts     []TemplatePrompt `yaml:"prompts" json:"prompts"`

	// Dynamic templates ask the model for their next prompt
	Dynamic bool `yaml:"dynamic,omitempty" json:"dynamic,omitempty"`

	ShowProgress   bool   `yaml:"showProgress" json:"show_progress"`
	VoiceAvailable bool   `yaml:"voiceAvailable" json:"voice_available"`
	JournalMode    string `yaml:"journalMode" json:"journal_mode"`

	Finish FinishCondition `yaml:"finish" json:"finish"`
}

// TemplatePrompt is a single question in a template
type TemplatePrompt struct {
	ID          string `yaml:"id" json:"id"`
	Text        string `yaml:"text" json:"text"`
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

// FinishCondition controls when a compose session may be finalized
type FinishCondition struct {
	MinResponses     int  `yaml:"minResponses" json:"min_responses"`
	AllowEarlyFinish bool `yaml:"allowEarlyFinish" json:"allow_early_finish"`
}

// Prompt looks up a prompt by id
func (t *ComposeTemplate) Prompt(id string) (TemplatePrompt, bool) {
	for _, p := range t.Prompts {
		if p.ID == id {
			return p, true
		}
	}
	return TemplatePrompt{}, false
}

// CanFinish reports whether an entry with n responses may be finalized
func (t *ComposeTemplate) CanFinish(n int) bool {
	if t.Finish.AllowEarlyFinish {
		return n > 0
	}
	min := t.Finish.MinResponses
	if min <= 0 {
		min = len(t.Prompts)
	}
	if t.Dynamic && min == 0 {
		min = 1
	}
	return n >= min
}
