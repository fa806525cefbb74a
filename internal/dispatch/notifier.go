package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers out-of-band notifications to a player. Implementations
// own their retry policy: the engine fires and forgets after commit, and a
// failed dispatch never rolls back or fails the state change it describes.
type Notifier interface {
	Notify(ctx context.Context, targetODV, eventType string, payload map[string]string)
}

// LogNotifier is the default Notifier: it records the dispatch intent in the
// structured log. Real push delivery lives behind the same interface.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a Notifier that logs dispatches.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the dispatch. Empty targets are skipped, not errors: callers
// pass an empty odv when no recipient resolves.
func (n *LogNotifier) Notify(_ context.Context, targetODV, eventType string, payload map[string]string) {
	if targetODV == "" {
		n.logger.Debug("notification skipped, no target", zap.String("event_type", eventType))
		return
	}
	fields := []zap.Field{
		zap.String("target_odv", targetODV),
		zap.String("event_type", eventType),
	}
	for key, value := range payload {
		fields = append(fields, zap.String("payload_"+key, value))
	}
	n.logger.Info("notification dispatched", fields...)
}
