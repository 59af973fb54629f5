package handlers

import (
	"bufio"
	"context"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/llm"
	"daybook/internal/models"
	"daybook/internal/services"
)

const (
	streamTimeout    = 3 * time.Minute
	historyLimit     = 30
	weeklyReportDays = 7
	maxInlineEntries = 100
)

// EntryReader loads a user's entries for AI context
type EntryReader interface {
	Get(ctx context.Context, userID, entryID string) (*models.Entry, error)
	List(ctx context.Context, userID string, opts services.ListEntriesOptions) ([]models.Entry, error)
}

// ProfileReader resolves the caller's profile, creating it on first use
type ProfileReader interface {
	GetOrCreate(ctx context.Context, userID, email string) (*models.User, error)
}

// TemplateSource looks up compose templates
type TemplateSource interface {
	Get(id string) (*models.ComposeTemplate, error)
}

// TopicSource lists the titles of a user's collection items
type TopicSource interface {
	Titles(ctx context.Context, userID, itemType string) ([]string, error)
}

// AIRequest is the body of every AI endpoint. Inline entries take
// precedence over stored ones.
type AIRequest struct {
	EntryID        string         `json:"entry_id"`
	Entry          *models.Entry  `json:"entry"`
	Entries        []models.Entry `json:"entries"`
	FromDay        string         `json:"from_day"`
	ToDay          string         `json:"to_day"`
	TemplateID     string         `json:"template_id"`
	ExistingTopics []string       `json:"existing_topics"`
}

// AIHandler serves the streaming and structured AI endpoints
type AIHandler struct {
	reflection *services.ReflectionService
	entries    EntryReader
	users      ProfileReader
	templates  TemplateSource
	topics     TopicSource
	now        func() time.Time
}

// NewAIHandler creates a new AI handler. topics may be nil.
func NewAIHandler(reflection *services.ReflectionService, entries EntryReader, users ProfileReader, templates TemplateSource, topics TopicSource) *AIHandler {
	return &AIHandler{
		reflection: reflection,
		entries:    entries,
		users:      users,
		templates:  templates,
		topics:     topics,
		now:        time.Now,
	}
}

// needsCurrent reports features that operate on a single entry
func needsCurrent(feature llm.ContextKey) bool {
	switch feature {
	case llm.ContextExtractEntities, llm.ContextSummarizeEntry, llm.ContextGenerateTitle, llm.ContextDigDeeper:
		return true
	}
	return false
}

func (h *AIHandler) buildRequest(c *fiber.Ctx, feature llm.ContextKey) (*services.ReflectionRequest, error) {
	userID, email, ok := currentUser(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
	}

	var body AIRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if len(body.Entries) > maxInlineEntries {
		body.Entries = body.Entries[len(body.Entries)-maxInlineEntries:]
	}

	ctx := c.UserContext()
	req := &services.ReflectionRequest{UserID: userID, Feature: feature}

	profile, err := h.users.GetOrCreate(ctx, userID, email)
	if err != nil {
		log.Printf("⚠️  [AI] Failed to load profile for %s, using free tier defaults: %v", userID, err)
	} else {
		req.Premium = profile.IsPremium()
		req.Settings = profile.Settings
	}

	switch {
	case body.Entry != nil:
		req.Current = body.Entry
	case body.EntryID != "":
		entry, err := h.entries.Get(ctx, userID, body.EntryID)
		if err != nil {
			return nil, err
		}
		req.Current = entry
	}
	if needsCurrent(feature) && req.Current == nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "entry or entry_id is required")
	}

	if len(body.Entries) > 0 {
		req.Entries = body.Entries
	} else if !needsCurrent(feature) {
		opts := services.ListEntriesOptions{FromDay: body.FromDay, ToDay: body.ToDay, Limit: historyLimit}
		if feature == llm.ContextWeeklyReport && opts.FromDay == "" {
			// Inclusive of today
			opts.FromDay = models.DayKey(h.now().UTC().AddDate(0, 0, -(weeklyReportDays - 1)))
		}
		history, err := h.entries.List(ctx, userID, opts)
		if err != nil {
			return nil, err
		}
		req.Entries = history
	}

	templateID := body.TemplateID
	if templateID == "" && req.Current != nil {
		templateID = req.Current.TemplateID
	}
	if templateID != "" && h.templates != nil {
		if tmpl, err := h.templates.Get(templateID); err == nil {
			req.Template = tmpl
		}
	}

	if feature == llm.ContextSuggestTopics {
		existing := body.ExistingTopics
		if len(existing) == 0 && h.topics != nil {
			if titles, err := h.topics.Titles(ctx, userID, models.CollectionTypeTopic); err == nil {
				existing = titles
			}
		}
		if len(existing) > 0 {
			req.Extra = map[string]string{"existingTopics": strings.Join(existing, ", ")}
		}
	}

	return req, nil
}

// Stream returns a handler relaying a streaming feature as text/plain.
// POST /api/stream/generatePrompts, /api/stream/weeklyReport, /api/stream/digDeeper
func (h *AIHandler) Stream(feature llm.ContextKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := h.buildRequest(c, feature)
		if err != nil {
			return sendServiceError(c, err)
		}

		session, err := h.reflection.Stream(c.UserContext(), *req)
		if err != nil {
			return sendServiceError(c, err)
		}

		log.Printf("🌊 [STREAM] %s for %s via %s", feature, req.UserID, session.Model)

		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set("X-Model-Used", session.Model)
		c.Status(fiber.StatusOK)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
			defer cancel()
			// Failures end the body early; the service logs and counts them.
			_ = session.Relay(ctx, w)
			_ = w.Flush()
		})
		return nil
	}
}

// Structured returns a handler for a blocking feature with a parsed payload.
// POST /api/extractEntities, /api/compressEntries, /api/summarizeEntry,
// /api/suggestTopics, /api/generateTitle
func (h *AIHandler) Structured(feature llm.ContextKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := h.buildRequest(c, feature)
		if err != nil {
			return sendServiceError(c, err)
		}

		ctx := c.UserContext()
		var payload any
		switch feature {
		case llm.ContextExtractEntities:
			payload, err = h.reflection.ExtractEntities(ctx, *req)
		case llm.ContextCompressEntries:
			var summary string
			summary, err = h.reflection.CompressEntries(ctx, *req)
			payload = fiber.Map{"summary": summary}
		case llm.ContextSummarizeEntry:
			payload, err = h.reflection.SummarizeEntry(ctx, *req)
		case llm.ContextSuggestTopics:
			payload, err = h.reflection.SuggestTopics(ctx, *req)
		case llm.ContextGenerateTitle:
			payload, err = h.reflection.GenerateTitle(ctx, *req)
		default:
			payload, _, err = h.reflection.Complete(ctx, *req)
		}
		if err != nil {
			return sendServiceError(c, err)
		}

		return c.JSON(fiber.Map{"response": payload})
	}
}
