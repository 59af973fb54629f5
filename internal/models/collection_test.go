package models

import (
	"testing"
	"time"
)

func TestCollectionItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    CollectionItem
		wantErr bool
	}{
		{"topic without metadata", CollectionItem{Type: CollectionTypeTopic, Title: "Work"}, false},
		{"topic with color", CollectionItem{Type: CollectionTypeTopic, Title: "Work", Metadata: map[string]any{"color": "#fff"}}, false},
		{"topic with goal field", CollectionItem{Type: CollectionTypeTopic, Title: "Work", Metadata: map[string]any{"progress": 0.5}}, true},
		{"goal in range", CollectionItem{Type: CollectionTypeGoal, Title: "Run", Metadata: map[string]any{"progress": 0.5}}, false},
		{"goal out of range", CollectionItem{Type: CollectionTypeGoal, Title: "Run", Metadata: map[string]any{"progress": 1.5}}, true},
		{"prompt requires text", CollectionItem{Type: CollectionTypePrompt, Title: "Q"}, true},
		{"prompt with text", CollectionItem{Type: CollectionTypePrompt, Title: "Q", Metadata: map[string]any{"text": "What went well?"}}, false},
		{"milestone", CollectionItem{Type: CollectionTypeMilestone, Title: "100 days", Metadata: map[string]any{"achievedAt": "2026-01-01"}}, false},
		{"unknown type", CollectionItem{Type: "mood", Title: "x"}, true},
		{"missing title", CollectionItem{Type: CollectionTypeTopic}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComposeTemplate_CanFinish(t *testing.T) {
	tmpl := &ComposeTemplate{
		Prompts: []TemplatePrompt{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}
	if tmpl.CanFinish(2) {
		t.Error("Expected 2 of 3 responses to be insufficient without explicit minimum")
	}
	if !tmpl.CanFinish(3) {
		t.Error("Expected all responses to be sufficient")
	}

	tmpl.Finish.MinResponses = 1
	if !tmpl.CanFinish(1) {
		t.Error("Expected min responses to be honored")
	}

	early := &ComposeTemplate{Finish: FinishCondition{AllowEarlyFinish: true}}
	if early.CanFinish(0) {
		t.Error("Expected empty entry to be unfinishable")
	}
	if !early.CanFinish(1) {
		t.Error("Expected early finish with one response")
	}

	dynamic := &ComposeTemplate{Dynamic: true}
	if dynamic.CanFinish(0) || !dynamic.CanFinish(1) {
		t.Error("Expected dynamic templates to need one response")
	}
}

func TestEntryEntities_Normalize(t *testing.T) {
	var e *EntryEntities
	n := e.Normalize()
	if n.Emotions == nil || n.People == nil || n.Places == nil || n.Topics == nil {
		t.Fatal("Expected all categories to be non-nil")
	}

	partial := &EntryEntities{People: []string{"Sam"}}
	partial.Normalize()
	if len(partial.People) != 1 || partial.Topics == nil {
		t.Errorf("Unexpected normalize result: %+v", partial)
	}
}

func TestMigrationRecordID(t *testing.T) {
	if got := MigrationRecordID(3, "BackfillEntryDay"); got != "3_BackfillEntryDay" {
		t.Errorf("MigrationRecordID = %s", got)
	}
}

func TestDayKey(t *testing.T) {
	d := time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)
	if DayKey(d) != "2026-03-07" {
		t.Errorf("DayKey = %s", DayKey(d))
	}
}
