package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// LifecycleMessage is the payload published for job start and end events.
type LifecycleMessage struct {
	JobID     string           `json:"jobId"`
	Mode      scrape.JobMode   `json:"mode"`
	Stage     progress.Stage   `json:"stage"`
	PageNum   int              `json:"pageNum,omitempty"`
	Status    scrape.JobStatus `json:"status,omitempty"`
	Note      string           `json:"note,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// PublishSink forwards job lifecycle events to a Publisher topic. Worker log
// lines are not published.
type PublishSink struct {
	publisher scrape.Publisher
	topic     string
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(publisher scrape.Publisher, topic string) *PublishSink {
	return &PublishSink{publisher: publisher, topic: topic}
}

// Consume publishes JOB_START and JOB_END events in order, stopping at the
// first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageJobStart && evt.Stage != progress.StageJobEnd {
			continue
		}
		msg := LifecycleMessage{
			JobID:     evt.JobID,
			Mode:      evt.Mode,
			Stage:     evt.Stage,
			PageNum:   evt.PageNum,
			Status:    evt.Status,
			Note:      evt.Note,
			Timestamp: evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
			return fmt.Errorf("publish %s for job %s: %w", evt.Stage, evt.JobID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

// PubSubAttributes exposes mode and stage as message attributes.
func (m LifecycleMessage) PubSubAttributes() map[string]string {
	attrs := map[string]string{
		"mode":  string(m.Mode),
		"stage": string(m.Stage),
	}
	if m.Status != "" {
		attrs["status"] = string(m.Status)
	}
	return attrs
}
