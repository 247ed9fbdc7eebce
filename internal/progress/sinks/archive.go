package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
)

const ndjsonContentType = "application/x-ndjson"

// BlobStore persists archive objects.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// IDGenerator names archive objects.
type IDGenerator interface {
	NewID() (string, error)
}

// ArchiveSink writes each batch as one NDJSON object under
// <prefix>/<yyyy>/<mm>/<dd>/<id>.ndjson, dated by the first event.
type ArchiveSink struct {
	blobs  BlobStore
	ids    IDGenerator
	prefix string
}

// NewArchiveSink constructs an ArchiveSink. An empty prefix defaults to "progress".
func NewArchiveSink(blobs BlobStore, ids IDGenerator, prefix string) *ArchiveSink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "progress"
	}
	return &ArchiveSink{blobs: blobs, ids: ids, prefix: prefix}
}

// Consume encodes the batch and uploads it.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil || len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, evt := range batch {
		if err := enc.Encode(wrap(evt)); err != nil {
			return fmt.Errorf("encode archive line: %w", err)
		}
	}
	name, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("archive object name: %w", err)
	}
	day := batch[0].TS.UTC()
	key := path.Join(s.prefix, day.Format("2006"), day.Format("01"), day.Format("02"), name+".ndjson")
	if _, err := s.blobs.PutObject(ctx, key, ndjsonContentType, buf.Bytes()); err != nil {
		return fmt.Errorf("put archive object: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
