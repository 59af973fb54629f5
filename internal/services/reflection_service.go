package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"daybook/internal/llm"
	"daybook/internal/logging"
	"daybook/internal/models"
	"daybook/internal/partialjson"
	"daybook/internal/prompts"
)

// Completer is the provider surface the reflection service calls
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
	Stream(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error)
}

// featureParams are per-feature sampling settings
type featureParams struct {
	temperature float64
	maxTokens   int
	json        bool
}

var featureSettings = map[llm.ContextKey]featureParams{
	llm.ContextGeneratePrompts: {temperature: 0.9, maxTokens: 400},
	llm.ContextWeeklyReport:    {temperature: 0.7, maxTokens: 1200},
	llm.ContextExtractEntities: {temperature: 0.1, maxTokens: 400, json: true},
	llm.ContextCompressEntries: {temperature: 0.2, maxTokens: 1500, json: true},
	llm.ContextDigDeeper:       {temperature: 0.8, maxTokens: 200},
	llm.ContextSummarizeEntry:  {temperature: 0.4, maxTokens: 400, json: true},
	llm.ContextGenerateTitle:   {temperature: 0.5, maxTokens: 30},
	llm.ContextSuggestTopics:   {temperature: 0.3, maxTokens: 200, json: true},
}

// ReflectionRequest is one AI feature call on behalf of a user
type ReflectionRequest struct {
	UserID   string
	Feature  llm.ContextKey
	Premium  bool
	Settings models.UserSettings

	Entries  []models.Entry
	Current  *models.Entry
	Template *models.ComposeTemplate
	Extra    map[string]string
}

// ReflectionService runs AI features: it checks the usage limit, selects
// a model, composes the prompt, calls the provider and records usage.
type ReflectionService struct {
	selector           *llm.Selector
	composer           *prompts.Composer
	client             Completer
	limiter            *UsageLimiterService
	usage              *AnalyticsService
	emergencyDowngrade bool
}

// NewReflectionService creates a reflection service. limiter and usage may be nil.
func NewReflectionService(selector *llm.Selector, composer *prompts.Composer, client Completer,
	limiter *UsageLimiterService, usage *AnalyticsService, emergencyDowngrade bool) *ReflectionService {
	return &ReflectionService{
		selector:           selector,
		composer:           composer,
		client:             client,
		limiter:            limiter,
		usage:              usage,
		emergencyDowngrade: emergencyDowngrade,
	}
}

type preparedCall struct {
	req    ReflectionRequest
	model  string
	params featureParams
	msgs   []llm.Message
}

func (c *preparedCall) completion() llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:       c.model,
		Messages:    c.msgs,
		Temperature: c.params.temperature,
		MaxTokens:   c.params.maxTokens,
		JSON:        c.params.json,
	}
}

func (s *ReflectionService) prepare(ctx context.Context, req ReflectionRequest) (*preparedCall, error) {
	model, err := s.selector.Select(req.Feature, req.Premium, llm.SelectOptions{
		EmergencyDowngrade:   s.emergencyDowngrade,
		AdvancedModelEnabled: req.Settings.AdvancedModelEnabled,
	})
	if err != nil {
		return nil, err
	}

	msgs, err := s.composer.Compose(req.Feature, prompts.Input{
		Model: model,
		Prefs: prompts.Preferences{
			Locale:       req.Settings.Locale,
			SupportStyle: req.Settings.SupportStyle,
			Tone:         req.Settings.Tone,
		},
		Entries:  req.Entries,
		Current:  req.Current,
		Template: req.Template,
		Extra:    req.Extra,
	})
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.ConsumeAIRequest(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	return &preparedCall{req: req, model: model, params: featureSettings[req.Feature], msgs: msgs}, nil
}

func (s *ReflectionService) track(call *preparedCall, response string, streaming bool) {
	if s.usage == nil {
		return
	}
	s.usage.TrackAsync(UsageEvent{
		Feature:   string(call.req.Feature),
		Model:     call.model,
		UserID:    call.req.UserID,
		Messages:  call.msgs,
		Response:  response,
		Streaming: streaming,
	})
}

func errorType(err error) string {
	var perr *llm.ProviderError
	switch {
	case errors.As(err, &perr):
		return fmt.Sprintf("provider_%d", perr.StatusCode)
	case errors.Is(err, llm.ErrEmptyCompletion):
		return "empty_completion"
	case errors.Is(err, llm.ErrStreamIncomplete):
		return "incomplete_stream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// Complete runs a blocking feature call and returns the text and model used
func (s *ReflectionService) Complete(ctx context.Context, req ReflectionRequest) (string, string, error) {
	call, err := s.prepare(ctx, req)
	if err != nil {
		return "", "", err
	}

	start := time.Now()
	text, err := s.client.Complete(ctx, call.completion())
	metrics := GetMetrics()
	metrics.RecordAIRequest(string(req.Feature), call.model, false, time.Since(start).Seconds())
	if err != nil {
		metrics.RecordAIError(string(req.Feature), errorType(err))
		logging.WithModel(logging.WithRequest(req.UserID, string(req.Feature)), call.model, false).
			Warn("AI request failed", "error", err, "error_type", errorType(err))
		return "", call.model, err
	}

	s.track(call, text, false)
	return text, call.model, nil
}

// StreamSession is an open upstream stream ready to be relayed
type StreamSession struct {
	Model string

	call    *preparedCall
	body    io.ReadCloser
	service *ReflectionService
	start   time.Time
}

// Stream opens a streaming feature call. The caller must Relay or Close it.
func (s *ReflectionService) Stream(ctx context.Context, req ReflectionRequest) (*StreamSession, error) {
	call, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := s.client.Stream(ctx, call.completion())
	if err != nil {
		GetMetrics().RecordAIError(string(req.Feature), errorType(err))
		return nil, err
	}

	return &StreamSession{Model: call.model, call: call, body: body, service: s, start: start}, nil
}

// Relay forwards deltas to w until the stream completes. Usage is tracked
// from the completion hook, so an aborted stream is not tracked.
func (ss *StreamSession) Relay(ctx context.Context, w io.Writer) error {
	defer ss.body.Close()

	feature := string(ss.call.req.Feature)
	err := llm.RelayStream(ctx, ss.body, w, func(full string) {
		ss.service.track(ss.call, full, true)
	})

	metrics := GetMetrics()
	metrics.RecordAIRequest(feature, ss.Model, true, time.Since(ss.start).Seconds())
	if err != nil {
		if errors.Is(err, llm.ErrStreamIncomplete) {
			metrics.StreamsIncomplete.Inc()
		}
		metrics.RecordAIError(feature, errorType(err))
		logging.WithModel(logging.WithRequest(ss.call.req.UserID, feature), ss.Model, true).
			Warn("AI stream ended early", "error", err, "error_type", errorType(err))
	}
	return err
}

// Close releases the upstream body without relaying
func (ss *StreamSession) Close() error {
	return ss.body.Close()
}

// Structured features. Model output is parsed tolerantly; anything that
// cannot be parsed degrades to the feature's default value.

// ExtractEntities returns the entities of req.Current
func (s *ReflectionService) ExtractEntities(ctx context.Context, req ReflectionRequest) (*models.EntryEntities, error) {
	req.Feature = llm.ContextExtractEntities
	text, _, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseEntities(text), nil
}

// CompressEntries returns a dense memory of req.Entries
func (s *ReflectionService) CompressEntries(ctx context.Context, req ReflectionRequest) (string, error) {
	req.Feature = llm.ContextCompressEntries
	text, _, err := s.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	obj, _ := parseModelJSON(text).(map[string]any)
	if summary, ok := obj["summary"].(string); ok {
		return summary, nil
	}
	return "", nil
}

// SummarizeEntry returns a title and summary of req.Current
func (s *ReflectionService) SummarizeEntry(ctx context.Context, req ReflectionRequest) (*models.EntrySummary, error) {
	req.Feature = llm.ContextSummarizeEntry
	text, _, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseSummary(text), nil
}

// SuggestTopics returns topic tags for req.Current or req.Entries
func (s *ReflectionService) SuggestTopics(ctx context.Context, req ReflectionRequest) ([]string, error) {
	req.Feature = llm.ContextSuggestTopics
	text, _, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseTopics(text), nil
}

// GenerateTitle returns a short title for req.Current
func (s *ReflectionService) GenerateTitle(ctx context.Context, req ReflectionRequest) (string, error) {
	req.Feature = llm.ContextGenerateTitle
	text, _, err := s.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(text), `"'`), nil
}

// parseModelJSON strips markdown code fences and parses what remains,
// repairing a truncated tail.
func parseModelJSON(text string) any {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	return partialjson.Parse(text)
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// ParseEntities reads an entities object; missing or malformed categories are empty
func ParseEntities(text string) *models.EntryEntities {
	obj, _ := parseModelJSON(text).(map[string]any)
	return &models.EntryEntities{
		Emotions: stringSlice(obj["emotions"]),
		People:   stringSlice(obj["people"]),
		Places:   stringSlice(obj["places"]),
		Topics:   stringSlice(obj["topics"]),
	}
}

// ParseSummary reads a {title, content} object. Unparseable output is kept
// as the content so nothing the model wrote is lost.
func ParseSummary(text string) *models.EntrySummary {
	obj, ok := parseModelJSON(text).(map[string]any)
	if !ok || len(obj) == 0 {
		return &models.EntrySummary{Content: strings.TrimSpace(text)}
	}
	title, _ := obj["title"].(string)
	content, _ := obj["content"].(string)
	return &models.EntrySummary{Title: strings.TrimSpace(title), Content: strings.TrimSpace(content)}
}

// ParseTopics reads {"topics": [...]} or a bare array
func ParseTopics(text string) []string {
	switch v := parseModelJSON(text).(type) {
	case map[string]any:
		return stringSlice(v["topics"])
	case []any:
		return stringSlice(v)
	}
	return []string{}
}
