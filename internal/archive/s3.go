// Package archive writes finished batch reports to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/pipeline"
)

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Archiver loads the default AWS config chain for region.
func NewS3Archiver(ctx context.Context, bucket, prefix, region string, logger zerolog.Logger) (*S3Archiver, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("report bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return NewS3ArchiverWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger,
	}
}

// Key is <prefix>/<yyyy>/<mm>/<dd>/<run uuid>.json, dated by the run start.
func (a *S3Archiver) Key(report pipeline.BatchReport) string {
	started := report.StartedAt.UTC()
	name := report.RunUUID + ".json"
	return path.Join(a.prefix, started.Format("2006"), started.Format("01"), started.Format("02"), name)
}

func (a *S3Archiver) Archive(ctx context.Context, report pipeline.BatchReport) (string, error) {
	if report.RunUUID == "" {
		return "", fmt.Errorf("report has no run uuid")
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := a.Key(report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}

	a.logger.Info().Str("bucket", a.bucket).Str("key", key).Msg("batch report archived")
	return key, nil
}
