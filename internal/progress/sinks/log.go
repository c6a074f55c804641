package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// LogSink mirrors progress events into structured logs. Worker log records are
// re-logged at the matching zap level so one log stream shows the whole job.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("mode", string(evt.Mode)),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageJobStart:
			s.logger.Info("job started", append(fields, zap.Int("page", evt.PageNum))...)
		case progress.StageJobLog:
			fields = append(fields, zap.String("level", string(evt.Level)))
			switch evt.Level {
			case scrape.LevelWarn:
				s.logger.Warn(evt.Message, fields...)
			case scrape.LevelError:
				s.logger.Error(evt.Message, fields...)
			default:
				s.logger.Info(evt.Message, fields...)
			}
		case progress.StageJobEnd:
			fields = append(fields,
				zap.String("status", string(evt.Status)),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("job finished", fields...)
		case progress.StageLoopSkip:
			s.logger.Debug("loop tick skipped", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
