package event

import (
	"context"
	"log/slog"
)

// Fanout publishes each event to every sink. A failing sink is logged and
// skipped; inbox writes never fail because an event could not be delivered.
type Fanout struct {
	sinks  []Publisher
	logger *slog.Logger
}

// NewFanout combines publishers into one best-effort sink.
func NewFanout(log *slog.Logger, sinks ...Publisher) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		sinks:  sinks,
		logger: log.With(slog.String("service", "event-fanout")),
	}
}

func (f *Fanout) Publish(ctx context.Context, evt Event) error {
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, evt); err != nil {
			f.logger.Warn("event sink failed",
				slog.String("type", string(evt.Type)),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
