package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRegistry_EmbeddedDefaults(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	if _, err := r.Get(DefaultTemplateID); err != nil {
		t.Errorf("Expected default template, got %v", err)
	}
	if len(r.List()) < 3 {
		t.Errorf("Expected several embedded templates, got %d", len(r.List()))
	}

	_, err = r.Get("missing")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Expected ErrTemplateNotFound, got %v", err)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r, _ := NewRegistry("")
	a, _ := r.Get(DefaultTemplateID)
	a.Prompts[0].Text = "mutated"

	b, _ := r.Get(DefaultTemplateID)
	if b.Prompts[0].Text == "mutated" {
		t.Error("Expected Get to return an independent copy")
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"valid", "templates:\n  - id: a\n    prompts:\n      - {id: p, text: q}\n", false},
		{"missing id", "templates:\n  - prompts:\n      - {id: p, text: q}\n", true},
		{"no prompts", "templates:\n  - id: a\n", true},
		{"dynamic without prompts", "templates:\n  - id: a\n    dynamic: true\n", false},
		{"duplicate template", "templates:\n  - id: a\n    prompts: [{id: p, text: q}]\n  - id: a\n    prompts: [{id: p, text: q}]\n", true},
		{"duplicate prompt", "templates:\n  - id: a\n    prompts: [{id: p, text: q}, {id: p, text: r}]\n", true},
		{"bad mode", "templates:\n  - id: a\n    journalMode: shouting\n    prompts: [{id: p, text: q}]\n", true},
		{"min too high", "templates:\n  - id: a\n    finish: {minResponses: 3}\n    prompts: [{id: p, text: q}]\n", true},
		{"bad yaml", "templates: [", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_OverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	override := "templates:\n  - id: daily\n    name: Custom daily\n    prompts: [{id: one, text: Only question}]\n  - id: extra\n    prompts: [{id: p, text: q}]\n"
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-template files are ignored
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644)

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	daily, _ := r.Get("daily")
	if daily.Name != "Custom daily" || len(daily.Prompts) != 1 {
		t.Errorf("Expected override of daily, got %+v", daily)
	}
	if _, err := r.Get("extra"); err != nil {
		t.Errorf("Expected extra template, got %v", err)
	}
}

func TestRegistry_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	before := len(r.List())

	_ = os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("templates: ["), 0o644)
	if err := r.Reload(); err == nil {
		t.Fatal("Expected reload error")
	}
	if len(r.List()) != before {
		t.Error("Expected previous templates to remain after failed reload")
	}
}

func TestRegistry_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Watch(ctx) }()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "new.yaml"), []byte("templates:\n  - id: hot\n    prompts: [{id: p, text: q}]\n"), 0o644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Get("hot"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("Expected hot template after file change")
}
