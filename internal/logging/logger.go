package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRequest returns a logger scoped to one AI feature request.
func WithRequest(userID, feature string) *slog.Logger {
	return slog.With(
		"user_id", userID,
		"feature", feature,
	)
}

// WithModel attaches the selected model to a request logger.
func WithModel(logger *slog.Logger, model string, streaming bool) *slog.Logger {
	return logger.With(
		"model", model,
		"streaming", streaming,
	)
}
