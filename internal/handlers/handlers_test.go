package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"daybook/internal/models"
	"daybook/internal/services"
)

func mockAuthMiddleware(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_email", "test@example.com")
		return c.Next()
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeError(t *testing.T, body []byte) ErrorBody {
	t.Helper()
	var envelope struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("Invalid error body %q: %v", body, err)
	}
	return envelope.Error
}

// fakeEntries is an in-memory EntryStore
type fakeEntries struct {
	entries   map[string]*models.Entry
	finalized *models.Entry
}

func newFakeEntries(entries ...*models.Entry) *fakeEntries {
	f := &fakeEntries{entries: map[string]*models.Entry{}}
	for _, e := range entries {
		if e.ID.IsZero() {
			e.ID = primitive.NewObjectID()
		}
		f.entries[e.ID.Hex()] = e
	}
	return f
}

func (f *fakeEntries) Get(ctx context.Context, userID, entryID string) (*models.Entry, error) {
	e, ok := f.entries[entryID]
	if !ok || e.UserID != userID {
		return nil, services.ErrEntryNotFound
	}
	return e, nil
}

func (f *fakeEntries) List(ctx context.Context, userID string, opts services.ListEntriesOptions) ([]models.Entry, error) {
	var out []models.Entry
	for _, e := range f.entries {
		if e.UserID != userID || (e.Draft && !opts.IncludeDrafts) {
			continue
		}
		if opts.FromDay != "" && e.Day < opts.FromDay {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEntries) Create(ctx context.Context, userID, templateID string, date time.Time) (*models.Entry, error) {
	if date.IsZero() {
		date = time.Now().UTC()
	}
	e := &models.Entry{ID: primitive.NewObjectID(), UserID: userID, TemplateID: templateID, Day: models.DayKey(date), Date: date, Draft: true}
	f.entries[e.ID.Hex()] = e
	return e, nil
}

func (f *fakeEntries) AppendResponse(ctx context.Context, userID, entryID string, req services.AppendResponseRequest) (*models.Entry, error) {
	e, err := f.Get(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if !e.Draft {
		return nil, services.ErrEntryFinalized
	}
	e.Responses = append(e.Responses, models.ComposeResponse{PromptID: req.PromptID, Question: req.Question, Response: req.Response})
	return e, nil
}

func (f *fakeEntries) CheckFinishable(ctx context.Context, userID, entryID string) (*models.Entry, *models.ComposeTemplate, error) {
	e, err := f.Get(ctx, userID, entryID)
	if err != nil {
		return nil, nil, err
	}
	if !e.Draft {
		return nil, nil, services.ErrEntryFinalized
	}
	if len(e.Responses) == 0 {
		return nil, nil, services.ErrCannotFinish
	}
	return e, nil, nil
}

func (f *fakeEntries) Finalize(ctx context.Context, userID, entryID string, summary *models.EntrySummary, entities *models.EntryEntities) (*models.Entry, error) {
	e, err := f.Get(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	e.Draft = false
	e.Summary = summary
	e.Entities = entities
	f.finalized = e
	return e, nil
}

func (f *fakeEntries) Delete(ctx context.Context, userID, entryID string) error {
	if _, err := f.Get(ctx, userID, entryID); err != nil {
		return err
	}
	delete(f.entries, entryID)
	return nil
}

// fakeUsers is an in-memory UserStore
type fakeUsers struct {
	users    map[string]*models.User
	redeemed string
	err      error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*models.User{}}
}

func (f *fakeUsers) GetOrCreate(ctx context.Context, userID, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		u = &models.User{UserID: userID, Email: email}
		f.users[userID] = u
	}
	return u, nil
}

func (f *fakeUsers) UpdateSettings(ctx context.Context, userID string, req *models.UpdateSettingsRequest) (*models.UserSettings, error) {
	u := f.users[userID]
	if req.JournalMode != nil {
		u.Settings.JournalMode = *req.JournalMode
	}
	return &u.Settings, nil
}

func (f *fakeUsers) SaveOnboarding(ctx context.Context, userID string, answers map[string]string) error {
	return nil
}

func (f *fakeUsers) RegisterNotificationID(ctx context.Context, userID, notificationID string) error {
	return nil
}

func (f *fakeUsers) GetReferralCode(ctx context.Context, userID string) (string, error) {
	return "REF-" + userID, nil
}

func (f *fakeUsers) RedeemReferral(ctx context.Context, userID, code string) error {
	if code == "REF-"+userID {
		return services.ErrSelfReferral
	}
	f.redeemed = code
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus int
		wantState  string
	}{
		{"all healthy", map[string]Pinger{"mongodb": fakePinger{}, "redis": fakePinger{}}, 200, "healthy"},
		{"redis down", map[string]Pinger{"mongodb": fakePinger{}, "redis": fakePinger{errors.New("refused")}}, 503, "degraded"},
		{"nil checks skipped", map[string]Pinger{"redis": nil}, 200, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/health", NewHealthHandler(tt.checks).Handle)

			resp, body := doRequest(t, app, "GET", "/health", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			var result map[string]any
			json.Unmarshal(body, &result)
			if result["status"] != tt.wantState {
				t.Errorf("Expected status %q, got %v", tt.wantState, result["status"])
			}
		})
	}
}

func TestSendServiceError_Mapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{services.ErrEntryNotFound, 404, "not_found"},
		{services.ErrEntryFinalized, 409, "conflict"},
		{services.ErrCannotFinish, 400, "bad_request"},
		{models.ErrInvalidCollectionItem, 400, "bad_request"},
		{services.ErrNoSubscription, 404, "no_subscription"},
		{services.ErrPaymentsDisabled, 503, "payments_disabled"},
		{fiber.NewError(fiber.StatusUnauthorized, "nope"), 401, "unauthorized"},
		{errors.New("boom"), 500, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return sendServiceError(c, tt.err) })

			resp, body := doRequest(t, app, "GET", "/", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if got := decodeError(t, body).Code; got != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, got)
			}
		})
	}
}

func TestUserHandler(t *testing.T) {
	users := newFakeUsers()
	handler := NewUserHandler(users, nil)

	app := fiber.New()
	app.Get("/api/users/me", handler.GetMe)
	authed := app.Group("/api", mockAuthMiddleware("user-123"))
	authed.Get("/me", handler.GetMe)
	authed.Patch("/me/settings", handler.UpdateSettings)
	authed.Post("/referrals/redeem", handler.RedeemReferral)
	authed.Get("/me/usage", handler.GetUsage)

	if resp, _ := doRequest(t, app, "GET", "/api/users/me", ""); resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected 401 without auth, got %d", resp.StatusCode)
	}

	resp, body := doRequest(t, app, "GET", "/api/me", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var me struct {
		User      models.User `json:"user"`
		IsPremium bool        `json:"is_premium"`
	}
	json.Unmarshal(body, &me)
	if me.User.UserID != "user-123" || me.IsPremium {
		t.Errorf("Unexpected profile: %s", body)
	}

	if resp, _ := doRequest(t, app, "PATCH", "/api/me/settings", `{"journal_mode":"shouting"}`); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for unknown journal mode, got %d", resp.StatusCode)
	}
	if resp, _ := doRequest(t, app, "PATCH", "/api/me/settings", `{"journal_mode":"freeform"}`); resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if users.users["user-123"].Settings.JournalMode != "freeform" {
		t.Error("Expected journal mode to be saved")
	}

	if resp, _ := doRequest(t, app, "POST", "/api/referrals/redeem", `{"code":"REF-user-123"}`); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected 400 for self referral, got %d", resp.StatusCode)
	}
	if resp, _ := doRequest(t, app, "POST", "/api/referrals/redeem", `{"code":"REF-friend"}`); resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, app, "GET", "/api/me/usage", "")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"ai_requests_limit":-1`) {
		t.Errorf("Unexpected usage response %d: %s", resp.StatusCode, body)
	}
}

type fakeCollections struct {
	items []models.CollectionItem
}

func (f *fakeCollections) Create(ctx context.Context, userID string, item *models.CollectionItem) (*models.CollectionItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item.ID = primitive.NewObjectID()
	item.UserID = userID
	f.items = append(f.items, *item)
	return item, nil
}

func (f *fakeCollections) List(ctx context.Context, userID, itemType string) ([]models.CollectionItem, error) {
	var out []models.CollectionItem
	for _, it := range f.items {
		if it.UserID == userID && (itemType == "" || it.Type == itemType) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeCollections) Delete(ctx context.Context, userID, itemID string) error {
	return services.ErrCollectionItemNotFound
}

func TestCollectionHandler(t *testing.T) {
	store := &fakeCollections{}
	handler := NewCollectionHandler(store)

	app := fiber.New()
	app.Use(mockAuthMiddleware("user-123"))
	app.Get("/api/collections", handler.List)
	app.Post("/api/collections", handler.Create)
	app.Delete("/api/collections/:id", handler.Delete)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"topic", `{"type":"topic","title":"Work","metadata":{"color":"#ff0000"}}`, 201},
		{"goal", `{"type":"goal","title":"Run","metadata":{"progress":0.5}}`, 201},
		{"unknown type", `{"type":"mood","title":"Happy"}`, 400},
		{"prompt without text", `{"type":"prompt","title":"Q"}`, 400},
		{"metadata of another type", `{"type":"topic","title":"Work","metadata":{"progress":1}}`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doRequest(t, app, "POST", "/api/collections", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, body)
			}
		})
	}

	_, body := doRequest(t, app, "GET", "/api/collections?type=topic", "")
	var result struct {
		Items []models.CollectionItem `json:"items"`
	}
	json.Unmarshal(body, &result)
	if len(result.Items) != 1 || result.Items[0].Title != "Work" {
		t.Errorf("Unexpected items: %s", body)
	}

	if resp, _ := doRequest(t, app, "DELETE", "/api/collections/abc", ""); resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

type fakeMigrations struct {
	result *services.MigrationResult
	err    error
}

func (f *fakeMigrations) Run(ctx context.Context, userID string) (*services.MigrationResult, error) {
	return f.result, f.err
}

func TestMigrationHandler_CheckMigrations(t *testing.T) {
	users := newFakeUsers()
	runner := &fakeMigrations{result: &services.MigrationResult{From: 1, To: 3, Latest: 3, Applied: []string{"two", "three"}}}

	app := fiber.New()
	app.Use(mockAuthMiddleware("user-123"))
	app.Get("/api/checkMigrations", NewMigrationHandler(users, runner).CheckMigrations)

	resp, body := doRequest(t, app, "GET", "/api/checkMigrations", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Response services.MigrationResult `json:"response"`
	}
	json.Unmarshal(body, &result)
	if result.Response.To != 3 || len(result.Response.Applied) != 2 {
		t.Errorf("Unexpected result: %s", body)
	}
	if _, ok := users.users["user-123"]; !ok {
		t.Error("Expected the profile to be created before migrating")
	}

	runner.err = errors.New("migration two failed")
	resp, body = doRequest(t, app, "GET", "/api/checkMigrations", "")
	if resp.StatusCode != fiber.StatusInternalServerError || decodeError(t, body).Code != "migration_failed" {
		t.Errorf("Unexpected failure response %d: %s", resp.StatusCode, body)
	}
}
