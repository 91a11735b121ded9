package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"challenge-tasks/config"
	"challenge-tasks/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// ReportArchive stores JSON run reports in an R2 bucket.
type ReportArchive struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
	prefix     string
	loc        *time.Location
}

func NewReportArchive(ctx context.Context, cfg config.R2Config, service string, loc *time.Location) (*ReportArchive, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	cdnBaseURL := cfg.CDNBaseURL
	if cdnBaseURL == "" {
		cdnBaseURL = endpoint + "/" + cfg.Bucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &ReportArchive{
		client:     client,
		bucket:     cfg.Bucket,
		cdnBaseURL: cdnBaseURL,
		prefix:     "reports/" + slug.Make(service),
		loc:        loc,
	}, nil
}

// ReportKey is reports/<service>/<YYYY-MM-DD>/<run-id>.json, dated in loc.
func ReportKey(prefix string, run *models.TaskRun, loc *time.Location) string {
	day := run.StartedAt.In(loc).Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s.json", prefix, day, slug.Make(run.ID))
}

// ArchiveRun uploads run as JSON and returns its public URL.
func (a *ReportArchive) ArchiveRun(ctx context.Context, run *models.TaskRun) (string, error) {
	body, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run report: %w", err)
	}

	key := ReportKey(a.prefix, run, a.loc)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload run report to R2: %w", err)
	}

	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key), nil
}
