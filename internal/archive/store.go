// Package archive keeps a JSON report of every sync run in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

const reportVersion = "1.0"

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives run reports. If bucket is empty, all operations are no-ops.
type Store struct {
	bucket   string
	s3Client S3API
	now      func() time.Time
	logger   *logging.Logger
}

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, now: time.Now, logger: logger.Component("archive")}
}

// Enabled returns true if archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// RunFinished archives the run; failures are logged only.
func (s *Store) RunFinished(ctx context.Context, sum pipeline.Summary) {
	if _, err := s.ArchiveRun(ctx, sum); err != nil {
		s.logger.Warn("run report not archived", "run_id", sum.RunID, "error", err)
	}
}

// ArchiveRun writes the report under sync-runs/v1/by-date and appends it to
// the monthly manifest. It returns the report key.
func (s *Store) ArchiveRun(ctx context.Context, sum pipeline.Summary) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	day := sum.StartedAt.UTC()
	if day.IsZero() {
		day = s.now().UTC()
	}
	key := fmt.Sprintf("sync-runs/v1/by-date/%d/%02d/%02d/%s.json", day.Year(), day.Month(), day.Day(), sum.RunID)

	data, err := json.Marshal(RunReport{Version: reportVersion, ArchivedAt: s.now().UTC(), Summary: sum})
	if err != nil {
		return "", fmt.Errorf("archive: marshal report: %w", err)
	}
	if err := s.put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}
	s.logger.Info("run report archived", "run_id", sum.RunID, "s3_key", key)

	entry := ManifestEntry{
		RunID:         sum.RunID,
		S3Key:         key,
		State:         string(sum.State),
		FailedStage:   string(sum.FailedStage),
		Processed:     sum.Processed,
		Updated:       sum.Updated,
		Failed:        sum.Failed,
		IssuesCreated: sum.IssuesCreated,
		StartedAt:     day.Format(time.RFC3339),
	}
	if err := s.appendManifest(ctx, day, entry); err != nil {
		// The report itself is stored.
		s.logger.Warn("manifest append failed", "run_id", sum.RunID, "error", err)
	}
	return key, nil
}

// appendManifest does a read-modify-write since S3 has no append.
func (s *Store) appendManifest(ctx context.Context, month time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("sync-runs/v1/manifests/%d-%02d.jsonl", month.Year(), month.Month())

	existing, err := s.get(ctx, key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')
	return s.put(ctx, key, buf.Bytes(), "application/x-ndjson")
}

func (s *Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	return nil
}

// get returns nil without error when the object does not exist.
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", key, err)
	}
	return data, nil
}
