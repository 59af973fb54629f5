// Package templates loads compose templates from embedded YAML, with an
// optional override directory that is hot-reloaded on change.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"daybook/internal/models"
)

//go:embed defaults.yaml
var defaultTemplates []byte

// DefaultTemplateID is used when a compose session names no template
const DefaultTemplateID = "daily"

// ErrTemplateNotFound is returned for unknown template ids
var ErrTemplateNotFound = errors.New("template not found")

type templateFile struct {
	Templates []*models.ComposeTemplate `yaml:"templates"`
}

// Registry holds the current template set. Lookups return copies so callers
// never observe a reload mid-use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*models.ComposeTemplate
	order     []string
	dir       string
}

// NewRegistry loads the embedded templates, then overlays dir when set
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse decodes and validates a YAML template document
func Parse(data []byte) ([]*models.ComposeTemplate, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	seen := make(map[string]bool)
	for _, t := range f.Templates {
		if err := validate(t); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return f.Templates, nil
}

func validate(t *models.ComposeTemplate) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	if len(t.Prompts) == 0 && !t.Dynamic {
		return fmt.Errorf("template %q has no prompts", t.ID)
	}
	if t.JournalMode == "" {
		t.JournalMode = models.JournalModeGuided
	}
	if !models.IsValidJournalMode(t.JournalMode) {
		return fmt.Errorf("template %q has invalid journal mode %q", t.ID, t.JournalMode)
	}

	ids := make(map[string]bool)
	for _, p := range t.Prompts {
		if p.ID == "" || p.Text == "" {
			return fmt.Errorf("template %q has a prompt without id or text", t.ID)
		}
		if ids[p.ID] {
			return fmt.Errorf("template %q has duplicate prompt id %q", t.ID, p.ID)
		}
		ids[p.ID] = true
	}
	if t.Finish.MinResponses > len(t.Prompts) && !t.Dynamic {
		return fmt.Errorf("template %q requires more responses than it has prompts", t.ID)
	}
	return nil
}

// Reload rebuilds the template set from the embedded defaults and the
// override directory. On error the previous set stays in place.
func (r *Registry) Reload() error {
	all, err := Parse(defaultTemplates)
	if err != nil {
		return fmt.Errorf("embedded templates: %w", err)
	}

	if r.dir != "" {
		extra, err := loadDir(r.dir)
		if err != nil {
			return err
		}
		all = append(all, extra...)
	}

	byID := make(map[string]*models.ComposeTemplate, len(all))
	var order []string
	for _, t := range all {
		if _, exists := byID[t.ID]; !exists {
			order = append(order, t.ID)
		}
		byID[t.ID] = t // later files override embedded ones
	}

	r.mu.Lock()
	r.templates = byID
	r.order = order
	r.mu.Unlock()

	log.Printf("📝 [TEMPLATES] Loaded %d templates", len(byID))
	return nil
}

func loadDir(dir string) ([]*models.ComposeTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read templates dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*models.ComposeTemplate
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		ts, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, ts...)
	}
	return out, nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Get returns a copy of the template with id
func (r *Registry) Get(id string) (*models.ComposeTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return clone(t), nil
}

// List returns copies of all templates in load order
func (r *Registry) List() []*models.ComposeTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ComposeTemplate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clone(r.templates[id]))
	}
	return out
}

func clone(t *models.ComposeTemplate) *models.ComposeTemplate {
	c := *t
	c.Prompts = append([]models.TemplatePrompt(nil), t.Prompts...)
	return &c
}
