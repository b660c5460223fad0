// Package archive uploads schedule history exports to an S3-compatible bucket
// (AWS S3 or MinIO).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/surgery-scheduler-server/internal/domain"
)

const defaultRegion = "us-east-1"

// Object describes one archived export.
type Object struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Archiver writes exports under a key prefix of a single bucket.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// Option configures an Archiver
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
}

// WithHTTPClient sends S3 requests through client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithClock overrides the clock used to name archives.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an archiver from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg domain.ArchiveConfig, opts ...Option) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket required")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		so.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			// S3-compatible stores may reject aws-chunked uploads.
			so.BaseEndpoint = aws.String(cfg.Endpoint)
			so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
		if o.httpClient != nil {
			so.HTTPClient = o.httpClient
		}
	})

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    o.now,
	}, nil
}

// Bucket returns the target bucket.
func (a *Archiver) Bucket() string {
	return a.bucket
}

// Put uploads body under the archive prefix.
func (a *Archiver) Put(ctx context.Context, name string, body []byte, contentType string) (*Object, error) {
	key := a.prefix + name
	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("uploading %s: %w: %w", key, domain.ErrStorageUnavailable, err)
	}
	return &Object{
		Bucket:       a.bucket,
		Key:          key,
		Size:         int64(len(body)),
		LastModified: a.now().UTC(),
	}, nil
}

// ArchiveRuns writes the schedule history through export and uploads it as
// a timestamped JSON object.
func (a *Archiver) ArchiveRuns(ctx context.Context, export func(ctx context.Context, w io.Writer) error) (*Object, error) {
	var buf bytes.Buffer
	if err := export(ctx, &buf); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("schedule_runs-%s.json", a.now().UTC().Format("20060102T150405Z"))
	return a.Put(ctx, name, buf.Bytes(), "application/json")
}

// List returns the archived objects under the prefix, sorted by key.
func (a *Archiver) List(ctx context.Context) ([]Object, error) {
	objects := []Object{}
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(a.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing archives: %w: %w", domain.ErrStorageUnavailable, err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Bucket:       a.bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(objects, func(i, j int) bool { return strings.Compare(objects[i].Key, objects[j].Key) < 0 })
	return objects, nil
}

// Check verifies the bucket is reachable.
func (a *Archiver) Check(ctx context.Context) error {
	if _, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)}); err != nil {
		return fmt.Errorf("bucket %s: %w: %w", a.bucket, domain.ErrStorageUnavailable, err)
	}
	return nil
}
