package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"daybook/internal/database"
	"daybook/internal/llm"
)

// UsageEvent describes one completed AI interaction
type UsageEvent struct {
	Feature    string
	Model      string
	UserID     string
	Messages   []llm.Message
	Response   string
	Streaming  bool
	Properties map[string]any
}

// TrackResult reports whether a usage event was delivered.
// Tracking never fails the caller; problems are reported here instead.
type TrackResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UsageRecord is the persisted and forwarded shape of a usage event
type UsageRecord struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Event          string             `bson:"event" json:"event"`
	UserID         string             `bson:"userId" json:"user_id"`
	Feature        string             `bson:"feature" json:"feature"`
	Model          string             `bson:"model" json:"model"`
	Streaming      bool               `bson:"streaming" json:"streaming"`
	RequestTokens  int                `bson:"requestTokens" json:"request_tokens"`
	SystemTokens   int                `bson:"systemTokens" json:"system_tokens"`
	ResponseTokens int                `bson:"responseTokens" json:"response_tokens"`
	Properties     map[string]any     `bson:"properties,omitempty" json:"properties,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"timestamp"`
}

// AnalyticsService records AI usage to an HTTP collector and to Mongo.
// Both sinks are optional.
type AnalyticsService struct {
	mongoDB      *database.MongoDB
	collectorURL string
	token        string
	httpClient   *http.Client
	metrics      *Metrics
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(mongoDB *database.MongoDB, collectorURL, token string) *AnalyticsService {
	return &AnalyticsService{
		mongoDB:      mongoDB,
		collectorURL: collectorURL,
		token:        token,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		metrics:      GetMetrics(),
	}
}

// Track computes token counts for event and forwards them. It never panics
// into the caller and never returns an error value.
func (s *AnalyticsService) Track(ctx context.Context, event UsageEvent) (result TrackResult) {
	defer func() {
		if r := recover(); r != nil {
			result = TrackResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
		if !result.Success {
			s.metrics.UsageTrackFailures.Inc()
			log.Printf("⚠️  [USAGE] Failed to track %s for %s: %s", event.Feature, event.UserID, result.Error)
		}
	}()

	bd := BreakdownUsage(event.Model, event.Messages, event.Response)
	s.metrics.RecordTokens(event.Feature, bd.RequestTokens, bd.ResponseTokens)

	record := UsageRecord{
		Event:          "ai_completion",
		UserID:         event.UserID,
		Feature:        event.Feature,
		Model:          event.Model,
		Streaming:      event.Streaming,
		RequestTokens:  bd.RequestTokens,
		SystemTokens:   bd.SystemTokens,
		ResponseTokens: bd.ResponseTokens,
		Properties:     event.Properties,
		CreatedAt:      time.Now(),
	}

	if s.mongoDB != nil {
		if _, err := s.mongoDB.Collection(database.CollectionUsageEvents).InsertOne(ctx, record); err != nil {
			return TrackResult{Success: false, Error: fmt.Sprintf("store usage event: %v", err)}
		}
	}

	if s.collectorURL != "" {
		if err := s.post(ctx, record); err != nil {
			return TrackResult{Success: false, Error: err.Error()}
		}
	}

	return TrackResult{Success: true}
}

// TrackAsync tracks in the background so the response is never delayed
func (s *AnalyticsService) TrackAsync(event UsageEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.Track(ctx, event)
	}()
}

func (s *AnalyticsService) post(ctx context.Context, record UsageRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.collectorURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("collector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
