// package archive uploads terminal-state submissions to object storage
// before the retention sweeper deletes them from staging.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fibreflow/staging/internal/models"
)

// Archiver writes a durable copy of a submission outside the staging store.
type Archiver interface {
	ArchiveSubmission(ctx context.Context, sub models.Submission) error
}

// S3Archiver writes submission JSON to S3 paths like:
//
//	s3://<bucket>/<prefix>/archive/YYYY/MM/DD/<submissionID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
func NewS3Archiver(ctx context.Context, bucket string, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 archiver: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// ObjectKey returns the S3 key a submission archives to, derived from its
// submission timestamp.
func (s *S3Archiver) ObjectKey(sub models.Submission) string {
	ts := sub.SubmittedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, "archive",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", sub.ID),
	)
}

func (s *S3Archiver) ArchiveSubmission(ctx context.Context, sub models.Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(s.ObjectKey(sub)),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
