package external

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"herald/internal/notifications/render"
)

// LogProvider logs messages instead of sending them. Used locally and in
// tests; it always succeeds.
type LogProvider struct {
	logger *slog.Logger
}

var _ Provider = (*LogProvider)(nil)

func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(ctx context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	p.logger.InfoContext(ctx, "notification sent to log sink",
		"provider_message_id", id,
		"channel", string(msg.Channel),
		"recipients", render.RedactAll(msg.Recipients),
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
		"dedupe_token", msg.DedupeToken,
	)
	return id, nil
}
