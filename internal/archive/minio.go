// Package archive ships audit event batches to object storage so the
// hash-chained log can be trimmed from hot storage without losing the
// assignment history.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/orbas1/gigvora-automatch/internal/state"
)

type Exporter struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewExporter(cfg Config) (*Exporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "automatch-audit"
	}
	return &Exporter{client: client, bucket: bucket}, nil
}

// NewExporterFromEnv returns nil when no endpoint is configured;
// archival is an optional capability.
func NewExporterFromEnv() (*Exporter, error) {
	endpoint := strings.TrimSpace(os.Getenv("AUTOMATCH_MINIO_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	useSSL := false
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("AUTOMATCH_MINIO_USE_SSL"))); v == "1" || v == "true" || v == "yes" {
		useSSL = true
	}
	return NewExporter(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("AUTOMATCH_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("AUTOMATCH_MINIO_SECRET_KEY"),
		Bucket:    os.Getenv("AUTOMATCH_MINIO_BUCKET"),
		UseSSL:    useSSL,
	})
}

// ArchiveEvents uploads the batch as a CSV object and returns its URI.
func (e *Exporter) ArchiveEvents(ctx context.Context, events []state.AssignmentEventRecord, now time.Time) (string, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("no events to archive")
	}
	body, err := RenderCSV(events)
	if err != nil {
		return "", err
	}

	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", err
		}
	}

	objectName := fmt.Sprintf("events/%s/automatch-events-%d.csv", now.UTC().Format("2006/01/02"), now.UTC().UnixNano())
	_, err = e.client.PutObject(ctx, e.bucket, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", e.bucket, objectName), nil
}

// RenderCSV renders assignment events as CSV with a fixed header row.
func RenderCSV(events []state.AssignmentEventRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "event_type", "actor", "worker_id", "work_item_id", "entry_id", "prev_hash", "event_hash", "details", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, ev := range events {
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.EventType,
			ev.Actor,
			ev.WorkerID,
			ev.WorkItemID,
			ev.EntryID,
			ev.PrevHash,
			ev.EventHash,
			ev.Details,
			ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
