package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/progress"
)

// LogSink writes one debug line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("delivery_id", evt.DeliveryID),
			zap.String("stage", string(evt.Stage)),
			zap.String("recipient", evt.Recipient),
			zap.String("source", evt.Source),
			zap.String("chapter_url", evt.ChapterURL),
		}
		if evt.Format != "" {
			fields = append(fields, zap.String("format", evt.Format), zap.Int64("bytes", evt.Bytes), zap.Bool("cached", evt.Cached))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("delivery progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
