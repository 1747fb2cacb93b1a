package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/authgate/internal/logging"
	sc "github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
)

// BatchSize is the maximum number of events per archive object.
const BatchSize = 1000

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Uploader is the part of the S3 API the archiver needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver moves audit events older than the retention period to object
// storage as JSON lines and removes them from the database.
type Archiver struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	uploader    Uploader
	bucket      string
	retention   time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewArchiver(db *sql.DB, m repomanager.RepositoryManager, up Uploader, bucket string, retention time.Duration, l logging.Logger) *Archiver {
	return &Archiver{
		db:          db,
		repomanager: m,
		uploader:    up,
		bucket:      bucket,
		retention:   retention,
		logger:      l.With("module", "audit_archiver"),
		now:         time.Now,
	}
}

// NewS3Uploader builds an S3 client from static credentials. A non-empty
// S3BaseEndpoint points it at MinIO or another S3-compatible store.
func NewS3Uploader(ctx context.Context, c *sc.Config) (Uploader, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3RootUser,
			c.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// ObjectKey names the archive object for a batch of events.
func ObjectKey(first, last models.AuditEvent) string {
	d := first.CreatedAt.UTC()
	return fmt.Sprintf("audit/%04d/%02d/%02d/%d-%d.jsonl", d.Year(), d.Month(), d.Day(), first.ID, last.ID)
}

// ArchiveOnce archives batches until no event older than the cutoff remains
// and returns how many events were moved. A failed upload leaves the batch in
// the database.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	if a.uploader == nil || a.bucket == "" {
		return 0, errors.New("audit archiving is not configured")
	}

	cutoff := a.now().Add(-a.retention)
	repo := a.repomanager.Audit(a.db)
	total := 0

	for {
		events, err := repo.ListBefore(ctx, cutoff, BatchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			break
		}

		body, err := encodeJSONLines(events)
		if err != nil {
			return total, err
		}

		first, last := events[0], events[len(events)-1]
		key := ObjectKey(first, last)
		_, err = a.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return total, fmt.Errorf("upload %s: %w", key, err)
		}

		n, err := repo.DeleteUpTo(ctx, last.ID, cutoff)
		if err != nil {
			return total, err
		}
		total += int(n)
		a.logger.Info(ctx, "audit batch archived", "key", key, "events", len(events))

		if len(events) < BatchSize {
			break
		}
	}

	return total, nil
}

func encodeJSONLines(events []models.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, fmt.Errorf("encode audit event %d: %w", events[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
