package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// ArchiveSink collects every event of a job and writes the transcript as JSON
// lines to a blob store once the job ends, at <prefix>/<mode>/<job_id>.jsonl.
type ArchiveSink struct {
	blobs  scrape.BlobStore
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*transcript
}

type transcript struct {
	mode scrape.JobMode
	buf  bytes.Buffer
}

type archiveLine struct {
	TS      time.Time        `json:"ts"`
	Stage   progress.Stage   `json:"stage"`
	PageNum int              `json:"pageNum,omitempty"`
	Level   scrape.LogLevel  `json:"level,omitempty"`
	Message string           `json:"message,omitempty"`
	Status  scrape.JobStatus `json:"status,omitempty"`
	Note    string           `json:"note,omitempty"`
}

// NewArchiveSink constructs an ArchiveSink writing under prefix.
func NewArchiveSink(blobs scrape.BlobStore, prefix string, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{
		blobs:   blobs,
		prefix:  prefix,
		logger:  logger,
		pending: make(map[string]*transcript),
	}
}

// ObjectPath returns the blob path used for a job transcript.
func (s *ArchiveSink) ObjectPath(mode scrape.JobMode, jobID string) string {
	return path.Join(s.prefix, string(mode), jobID+".jsonl")
}

// Consume appends events to their job transcript and uploads transcripts of
// jobs that ended in this batch.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	var finished []string
	s.mu.Lock()
	for _, evt := range batch {
		if evt.JobID == "" {
			continue
		}
		tr := s.pending[evt.JobID]
		if tr == nil {
			tr = &transcript{mode: evt.Mode}
			s.pending[evt.JobID] = tr
		}
		line, err := json.Marshal(archiveLine{
			TS:      evt.TS,
			Stage:   evt.Stage,
			PageNum: evt.PageNum,
			Level:   evt.Level,
			Message: evt.Message,
			Status:  evt.Status,
			Note:    evt.Note,
		})
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("encode transcript line: %w", err)
		}
		tr.buf.Write(line)
		tr.buf.WriteByte('\n')
		if evt.Stage == progress.StageJobEnd {
			finished = append(finished, evt.JobID)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, jobID := range finished {
		if err := s.upload(ctx, jobID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close uploads transcripts of jobs still in flight so a restart keeps what
// was observed so far.
func (s *ArchiveSink) Close(ctx context.Context) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := s.upload(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ArchiveSink) upload(ctx context.Context, jobID string) error {
	s.mu.Lock()
	tr := s.pending[jobID]
	delete(s.pending, jobID)
	s.mu.Unlock()
	if tr == nil {
		return nil
	}
	objectPath := s.ObjectPath(tr.mode, jobID)
	uri, err := s.blobs.PutObject(ctx, objectPath, "application/x-ndjson", &tr.buf)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", jobID, err)
	}
	s.logger.Debug("job transcript archived", zap.String("job_id", jobID), zap.String("uri", uri))
	return nil
}
