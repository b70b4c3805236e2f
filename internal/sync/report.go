package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmsync_backend/platform/config"
	"crmsync_backend/platform/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReportArchiver writes run summaries as JSON objects to S3-compatible
// storage for long-term audit. Archival is best-effort: a nil archiver or a
// failed upload never affects the run.
type ReportArchiver struct {
	client *minio.Client
	bucket string
	log    *logger.Logger
}

// NewReportArchiver creates the archiver, or (nil, nil) when MinIO is not
// configured.
func NewReportArchiver(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) (*ReportArchiver, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	archiver := &ReportArchiver{
		client: client,
		bucket: cfg.GetMinioBucketRunReports(),
		log:    log,
	}
	if err := archiver.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	return archiver, nil
}

func (a *ReportArchiver) ensureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// ArchiveSyncReport stores one sync run summary.
func (a *ReportArchiver) ArchiveSyncReport(ctx context.Context, startedAt time.Time, summary SyncSummary) {
	if a == nil {
		return
	}
	a.put(ctx, objectKey("sync-runs", summary.Mode, startedAt), summary)
}

// ArchiveReconciliationReport stores one reconciliation run summary.
func (a *ReportArchiver) ArchiveReconciliationReport(ctx context.Context, startedAt time.Time, summary ReconciliationSummary) {
	if a == nil {
		return
	}
	a.put(ctx, objectKey("reconciliation-runs", "full", startedAt), summary)
}

func (a *ReportArchiver) put(ctx context.Context, key string, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		a.log.Error("report archive: marshal failed", "object", key, "error", err)
		return
	}

	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		a.log.Error("report archive: upload failed", "object", key, "error", err)
	}
}

func objectKey(prefix, mode string, startedAt time.Time) string {
	ts := startedAt.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.json", prefix, ts.Format("2006/01"), mode, ts.Format("20060102T150405Z"))
}
