package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

const defaultArchiveBatch = 10000

// Source yields events after a watermark. Log implements it.
type Source interface {
	Since(afterID int64, limit int) []Event
}

// Destination stores archive objects
type Destination interface {
	Name() string
	Put(ctx context.Context, key string, body []byte) error
}

// DirDestination writes archive objects as files under Dir
type DirDestination struct {
	Dir string
}

func (d DirDestination) Name() string { return "dir" }

// Put writes body to Dir/key
func (d DirDestination) Put(_ context.Context, key string, body []byte) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, key), body, 0o644); err != nil {
		return fmt.Errorf("failed to write archive object: %w", err)
	}
	return nil
}

// S3PutObjectAPI is the subset of the S3 client used by S3Destination
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures S3Destination
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string // for MinIO or other S3-compatible stores
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Destination uploads archive objects to a bucket
type S3Destination struct {
	client S3PutObjectAPI
	bucket string
	prefix string
}

// NewS3Destination builds an S3 client from cfg
func NewS3Destination(ctx context.Context, cfg S3Config) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3DestinationWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3DestinationWithClient uses an existing client
func NewS3DestinationWithClient(client S3PutObjectAPI, bucket, prefix string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, prefix: prefix}
}

func (d *S3Destination) Name() string { return "s3" }

// Put uploads body under prefix/key
func (d *S3Destination) Put(ctx context.Context, key string, body []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(path.Join(d.prefix, key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentType(ExportFormatNDJSON)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive object: %w", err)
	}
	return nil
}

// ArchiverOptions configures NewArchiver
type ArchiverOptions struct {
	Schedule  string // cron spec, e.g. "@every 1h" or "0 * * * *"
	BatchSize int
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Archiver copies new events to a Destination on a schedule. It only reads
// the trail; nothing is removed.
type Archiver struct {
	src      Source
	dst      Destination
	batch    int
	schedule string
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	watermark int64
	cron      *cron.Cron
}

// NewArchiver creates an archiver starting from the beginning of the trail
func NewArchiver(src Source, dst Destination, opts ArchiverOptions) *Archiver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultArchiveBatch
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Archiver{
		src:      src,
		dst:      dst,
		batch:    opts.BatchSize,
		schedule: opts.Schedule,
		logger:   opts.Logger.WithField("component", "audit_archiver"),
		metrics:  opts.Metrics,
	}
}

// Watermark returns the id of the last archived event
func (a *Archiver) Watermark() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// ArchiveKey names the object holding events first..last
func ArchiveKey(first, last int64) string {
	return fmt.Sprintf("audit-%020d-%020d.ndjson", first, last)
}

// RunOnce archives every event after the watermark in batches and returns
// how many were written.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		events := a.src.Since(a.watermark, a.batch)
		if len(events) == 0 {
			return total, nil
		}
		body, err := Export(events, ExportFormatNDJSON)
		if err != nil {
			return total, err
		}
		first, last := events[0].ID, events[len(events)-1].ID
		if err := a.dst.Put(ctx, ArchiveKey(first, last), body); err != nil {
			return total, err
		}
		a.watermark = last
		total += len(events)
		a.metrics.AuditArchived(len(events))
	}
}

// Start schedules RunOnce. It returns an error for an invalid schedule.
func (a *Archiver) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(a.schedule, func() {
		defer observability.RecoverPanic(a.logger, "audit archive run")
		n, err := a.RunOnce(ctx)
		if err != nil {
			a.logger.WithError(err).WithField("destination", a.dst.Name()).Error("audit archive run failed")
			return
		}
		if n > 0 {
			a.logger.WithFields(map[string]interface{}{
				"events":    n,
				"watermark": a.Watermark(),
			}).Info("archived audit events")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", a.schedule, err)
	}
	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()
	c.Start()
	return nil
}

// Stop halts scheduling and waits for a running job to finish
func (a *Archiver) Stop() {
	a.mu.Lock()
	c := a.cron
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
