package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"user-level-system/logger"
	"user-level-system/models"
	"user-level-system/services"

	"github.com/google/uuid"
)

// LogExporter is satisfied by *services.AssignLogService.
type LogExporter interface {
	CreatedBetween(ctx context.Context, from, to time.Time) ([]models.AssignLog, error)
}

// ObjectWriter is satisfied by *utils.Uploader.
type ObjectWriter interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Archiver exports new assign logs to object storage as JSON lines.
type Archiver struct {
	logs  LogExporter
	store ObjectWriter
	log   *logger.Logger
	now   func() time.Time

	since time.Time
}

func NewArchiver(logs LogExporter, store ObjectWriter, log *logger.Logger, since time.Time) *Archiver {
	return &Archiver{logs: logs, store: store, log: log, now: time.Now, since: since}
}

// archiveKey is assign-logs/YYYY/MM/DD/<uuid>.jsonl for the export time.
func archiveKey(at time.Time) string {
	return fmt.Sprintf("assign-logs/%s/%s.jsonl", at.UTC().Format("2006/01/02"), uuid.NewString())
}

// Run exports logs created since the last successful export. An empty window
// uploads nothing. It returns the object location, or "" when nothing was written.
func (a *Archiver) Run(ctx context.Context) (string, error) {
	to := a.now()
	rows, err := a.logs.CreatedBetween(ctx, a.since, to)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		a.since = to
		a.log.Debug("[ARCHIVE] nothing to export")
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(services.NewAssignLogView(r)); err != nil {
			return "", fmt.Errorf("encode assign log %s: %w", r.ID, err)
		}
	}

	loc, err := a.store.Put(ctx, archiveKey(to), "application/x-ndjson", buf.Bytes())
	if err != nil {
		return "", err
	}
	a.since = to
	a.log.Info("[ARCHIVE] exported assign logs", "rows", len(rows), "location", loc)
	return loc, nil
}
