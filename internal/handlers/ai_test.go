package handlers

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"daybook/internal/llm"
	"daybook/internal/models"
	"daybook/internal/prompts"
	"daybook/internal/services"
)

type fakeCompleter struct {
	reply    string
	stream   string
	requests []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, nil
}

func (f *fakeCompleter) Stream(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error) {
	f.requests = append(f.requests, req)
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func newTestReflection(fc *fakeCompleter, limiter *services.UsageLimiterService) *services.ReflectionService {
	return services.NewReflectionService(
		llm.NewSelector("speed-model", "premium-model"),
		prompts.NewComposer(),
		fc, limiter, nil, false,
	)
}

func newTestLimiter(t *testing.T, daily int64) *services.UsageLimiterService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tier := services.NewTierServiceWithLookup(func(ctx context.Context, userID string) (bool, error) {
		return false, nil
	})
	return services.NewUsageLimiterService(tier, services.NewRedisServiceFromClient(client), daily)
}

type staticTopics []string

func (s staticTopics) Titles(ctx context.Context, userID, itemType string) ([]string, error) {
	return s, nil
}

func sampleEntry(userID, day string) *models.Entry {
	return &models.Entry{
		UserID:     userID,
		TemplateID: "daily",
		Day:        day,
		Responses: []models.ComposeResponse{
			{PromptID: "p1", Question: "How was today?", Response: []string{"I walked with Sam by the lake."}},
		},
	}
}

func setupAIApp(t *testing.T, fc *fakeCompleter, limiter *services.UsageLimiterService, entries *fakeEntries) *fiber.App {
	t.Helper()
	handler := NewAIHandler(newTestReflection(fc, limiter), entries, newFakeUsers(), nil, staticTopics{"Work", "Family"})
	handler.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	app := fiber.New()
	app.Post("/api/unauthed/extractEntities", handler.Structured(llm.ContextExtractEntities))

	api := app.Group("/api", mockAuthMiddleware("user-123"))
	api.Post("/stream/weeklyReport", handler.Stream(llm.ContextWeeklyReport))
	api.Post("/stream/digDeeper", handler.Stream(llm.ContextDigDeeper))
	api.Post("/extractEntities", handler.Structured(llm.ContextExtractEntities))
	api.Post("/compressEntries", handler.Structured(llm.ContextCompressEntries))
	api.Post("/suggestTopics", handler.Structured(llm.ContextSuggestTopics))
	api.Post("/generateTitle", handler.Structured(llm.ContextGenerateTitle))
	return app
}

const testStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Your week \"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"was calm.\"}}]}\n\n" +
	"data: [DONE]\n\n"

func TestAIHandler_StreamRelaysText(t *testing.T) {
	fc := &fakeCompleter{stream: testStream}
	entries := newFakeEntries(
		sampleEntry("user-123", "2026-03-08"),
		sampleEntry("user-123", "2026-03-04"),
		sampleEntry("user-123", "2026-03-03"),
		sampleEntry("user-123", "2026-02-01"),
		sampleEntry("someone-else", "2026-03-09"),
	)
	app := setupAIApp(t, fc, nil, entries)

	resp, body := doRequest(t, app, "POST", "/api/stream/weeklyReport", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Model-Used"); got != "speed-model" {
		t.Errorf("X-Model-Used = %q", got)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("Unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if string(body) != "Your week was calm." {
		t.Errorf("Relayed %q", body)
	}

	// Only the caller's entries from the seven days ending today reach the prompt
	var prompt string
	for _, m := range fc.requests[0].Messages {
		prompt += m.Content
	}
	for _, day := range []string{"2026-03-08", "2026-03-04"} {
		if !strings.Contains(prompt, day) {
			t.Errorf("Expected %s in prompt: %s", day, prompt)
		}
	}
	for _, day := range []string{"2026-03-03", "2026-02-01", "2026-03-09"} {
		if strings.Contains(prompt, day) {
			t.Errorf("Unexpected %s in prompt: %s", day, prompt)
		}
	}
}

func TestAIHandler_DigDeeperRequiresEntry(t *testing.T) {
	app := setupAIApp(t, &fakeCompleter{stream: testStream}, nil, newFakeEntries())

	resp, body := doRequest(t, app, "POST", "/api/stream/digDeeper", `{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, app, "POST", "/api/stream/digDeeper", `{"entry_id":"000000000000000000000000"}`)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected 404 for unknown entry, got %d", resp.StatusCode)
	}
}

func TestAIHandler_Structured(t *testing.T) {
	inline := `{"entry":{"template_id":"daily","day":"2026-03-09","responses":[{"prompt_id":"p1","question":"How was today?","response":["Lunch with Sam in Lisbon"]}]}}`

	tests := []struct {
		name  string
		path  string
		reply string
		body  string
		check func(t *testing.T, response json.RawMessage)
	}{
		{
			name:  "extract entities",
			path:  "/api/extractEntities",
			reply: "```json\n{\"people\":[\"Sam\"],\"places\":[\"Lisbon\"]}\n```",
			body:  inline,
			check: func(t *testing.T, response json.RawMessage) {
				var e models.EntryEntities
				json.Unmarshal(response, &e)
				if len(e.People) != 1 || e.People[0] != "Sam" || len(e.Places) != 1 || e.Emotions == nil {
					t.Errorf("Unexpected entities: %s", response)
				}
			},
		},
		{
			name:  "compress entries",
			path:  "/api/compressEntries",
			reply: `{"summary":"Sam, lake walks"}`,
			body:  `{"entries":[{"day":"2026-03-01","responses":[]}]}`,
			check: func(t *testing.T, response json.RawMessage) {
				if !strings.Contains(string(response), "Sam, lake walks") {
					t.Errorf("Unexpected summary: %s", response)
				}
			},
		},
		{
			name:  "suggest topics from a truncated reply",
			path:  "/api/suggestTopics",
			reply: `{"topics":["Friendship","Trav`,
			body:  inline,
			check: func(t *testing.T, response json.RawMessage) {
				var topics []string
				json.Unmarshal(response, &topics)
				if len(topics) == 0 || topics[0] != "Friendship" {
					t.Errorf("Unexpected topics: %s", response)
				}
			},
		},
		{
			name:  "generate title",
			path:  "/api/generateTitle",
			reply: `"Lunch in Lisbon"`,
			body:  inline,
			check: func(t *testing.T, response json.RawMessage) {
				if string(response) != `"Lunch in Lisbon"` {
					t.Errorf("Unexpected title: %s", response)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupAIApp(t, &fakeCompleter{reply: tt.reply}, nil, newFakeEntries())

			resp, body := doRequest(t, app, "POST", tt.path, tt.body)
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
			}
			var result struct {
				Response json.RawMessage `json:"response"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				t.Fatal(err)
			}
			tt.check(t, result.Response)
		})
	}
}

func TestAIHandler_SuggestTopicsUsesExistingCollection(t *testing.T) {
	fc := &fakeCompleter{reply: `{"topics":["Work"]}`}
	app := setupAIApp(t, fc, nil, newFakeEntries())

	body := `{"entry":{"day":"2026-03-09","responses":[{"prompt_id":"p1","response":["Busy day at the office"]}]}}`
	if resp, _ := doRequest(t, app, "POST", "/api/suggestTopics", body); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var found bool
	for _, m := range fc.requests[0].Messages {
		if strings.Contains(m.Content, "Work, Family") {
			found = true
		}
	}
	if !found {
		t.Error("Expected existing topics in the prompt")
	}
}

func TestAIHandler_LimitExceeded(t *testing.T) {
	fc := &fakeCompleter{reply: "A title"}
	app := setupAIApp(t, fc, newTestLimiter(t, 1), newFakeEntries())
	body := `{"entry":{"day":"2026-03-09","responses":[{"prompt_id":"p1","response":["x"]}]}}`

	if resp, _ := doRequest(t, app, "POST", "/api/generateTitle", body); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", resp.StatusCode)
	}

	resp, data := doRequest(t, app, "POST", "/api/generateTitle", body)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d: %s", resp.StatusCode, data)
	}
	var result struct {
		Error struct {
			Limit int64 `json:"limit"`
			Used  int64 `json:"used"`
		} `json:"error"`
	}
	json.Unmarshal(data, &result)
	if result.Error.Limit != 1 {
		t.Errorf("Unexpected limit body: %s", data)
	}
	if len(fc.requests) != 1 {
		t.Errorf("Expected the rejected call not to reach the provider, got %d", len(fc.requests))
	}
}

func TestAIHandler_Unauthenticated(t *testing.T) {
	app := setupAIApp(t, &fakeCompleter{}, nil, newFakeEntries())

	resp, body := doRequest(t, app, "POST", "/api/unauthed/extractEntities", `{}`)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
	if decodeError(t, body).Code != "unauthorized" {
		t.Errorf("Unexpected body: %s", body)
	}
}
