package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/payfox/payfox/app/models"
	"github.com/payfox/payfox/internal/pkg/jobqueue"
)

// Exporter writes audit log windows to S3 as JSON Lines objects. Exports are
// additive snapshots; the database rows stay untouched.
type Exporter struct {
	s3Client *s3.Client
	db       *gorm.DB
	config   *Config
}

// NewExporter creates an audit exporter from config.
func NewExporter(db *gorm.DB, cfg *Config) (*Exporter, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("audit export is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return &Exporter{s3Client: s3Client, db: db, config: cfg}, nil
}

// HandleJob is the jobqueue handler for audit export jobs.
func (e *Exporter) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.AuditExportJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid audit export payload: %w", err)
	}
	_, err = e.Export(ctx, payload.Since, payload.Until)
	return err
}

// Export uploads all audit rows in [since, until) as one JSONL object and
// returns the object key.
func (e *Exporter) Export(ctx context.Context, since, until time.Time) (string, error) {
	var entries []models.PaymentAuditLog
	err := e.db.Where("created_at >= ? AND created_at < ?", since, until).
		Order("id ASC").Find(&entries).Error
	if err != nil {
		return "", fmt.Errorf("failed to load audit rows: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return "", fmt.Errorf("failed to encode audit row %d: %w", entries[i].ID, err)
		}
	}

	key := objectKey(since, until)
	_, err = e.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload audit export %s: %w", key, err)
	}

	log.Infof("[AuditExport] Exported %d audit rows to s3://%s/%s", len(entries), e.config.BucketName, key)
	return key, nil
}

// objectKey builds the export object path: audit/YYYY/MM/DD/audit-<from>-<to>.jsonl
func objectKey(since, until time.Time) string {
	return fmt.Sprintf("audit/%04d/%02d/%02d/audit-%s-%s.jsonl",
		since.UTC().Year(), int(since.UTC().Month()), since.UTC().Day(),
		since.UTC().Format("20060102T150405Z"), until.UTC().Format("20060102T150405Z"))
}
