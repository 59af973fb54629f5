package handlers

import (
	"encoding/json"
	"testing"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/models"
)

func setupEntryApp(t *testing.T, fc *fakeCompleter, entries *fakeEntries) *fiber.App {
	t.Helper()
	handler := NewEntryHandler(entries, newFakeUsers(), newTestReflection(fc, nil))

	app := fiber.New()
	api := app.Group("/api", mockAuthMiddleware("user-123"))
	api.Post("/entries", handler.Create)
	api.Get("/entries", handler.List)
	api.Get("/entries/:id", handler.Get)
	api.Post("/entries/:id/responses", handler.AppendResponse)
	api.Post("/entries/:id/finalize", handler.Finalize)
	api.Delete("/entries/:id", handler.Delete)
	return app
}

func TestEntryHandler_ComposeFlow(t *testing.T) {
	fc := &fakeCompleter{reply: `{"title":"Lake walk","content":"A calm walk with Sam.","people":["Sam"],"emotions":["calm"]}`}
	entries := newFakeEntries()
	app := setupEntryApp(t, fc, entries)

	resp, body := doRequest(t, app, "POST", "/api/entries", `{"template_id":"daily","day":"2026-03-09"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created models.Entry
	json.Unmarshal(body, &created)
	if created.Day != "2026-03-09" || !created.Draft {
		t.Fatalf("Unexpected entry: %s", body)
	}
	id := created.ID.Hex()

	// Nothing answered yet
	if resp, _ := doRequest(t, app, "POST", "/api/entries/"+id+"/finalize", ""); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for an empty entry, got %d", resp.StatusCode)
	}

	if resp, _ := doRequest(t, app, "POST", "/api/entries/"+id+"/responses", `{"response":["x"]}`); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400 without prompt_id, got %d", resp.StatusCode)
	}
	resp, body = doRequest(t, app, "POST", "/api/entries/"+id+"/responses", `{"prompt_id":"p1","question":"How was today?","response":["Walked by the lake"]}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, app, "POST", "/api/entries/"+id+"/finalize", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var result struct {
		Entry        models.Entry `json:"entry"`
		AIIncomplete bool         `json:"ai_incomplete"`
	}
	json.Unmarshal(body, &result)
	if result.AIIncomplete || result.Entry.Draft {
		t.Errorf("Unexpected finalize result: %s", body)
	}
	if result.Entry.Summary == nil || result.Entry.Summary.Title != "Lake walk" {
		t.Errorf("Unexpected summary: %+v", result.Entry.Summary)
	}
	if result.Entry.Entities == nil || len(result.Entry.Entities.People) != 1 {
		t.Errorf("Unexpected entities: %+v", result.Entry.Entities)
	}
	if len(fc.requests) != 2 {
		t.Errorf("Expected summary and entity calls, got %d", len(fc.requests))
	}

	if resp, _ := doRequest(t, app, "POST", "/api/entries/"+id+"/finalize", ""); resp.StatusCode != fiber.StatusConflict {
		t.Errorf("Expected 409 for a finalized entry, got %d", resp.StatusCode)
	}
	if resp, _ := doRequest(t, app, "POST", "/api/entries/"+id+"/responses", `{"prompt_id":"p1","response":["more"]}`); resp.StatusCode != fiber.StatusConflict {
		t.Errorf("Expected 409 appending to a finalized entry, got %d", resp.StatusCode)
	}
}

func TestEntryHandler_ListAndDelete(t *testing.T) {
	draft := sampleEntry("user-123", "2026-03-09")
	draft.Draft = true
	entries := newFakeEntries(sampleEntry("user-123", "2026-03-08"), draft, sampleEntry("other", "2026-03-08"))
	app := setupEntryApp(t, &fakeCompleter{}, entries)

	tests := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"?drafts=true", 2},
		{"?from=2026-03-09&drafts=true", 1},
	}
	for _, tt := range tests {
		t.Run("list"+tt.query, func(t *testing.T) {
			resp, body := doRequest(t, app, "GET", "/api/entries"+tt.query, "")
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			var result struct {
				Count int `json:"count"`
			}
			json.Unmarshal(body, &result)
			if result.Count != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, result.Count)
			}
		})
	}

	if resp, _ := doRequest(t, app, "GET", "/api/entries?limit=-1", ""); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", resp.StatusCode)
	}

	id := draft.ID.Hex()
	if resp, _ := doRequest(t, app, "DELETE", "/api/entries/"+id, ""); resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if resp, _ := doRequest(t, app, "GET", "/api/entries/"+id, ""); resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}
