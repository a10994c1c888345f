// Package publish mirrors repository artifacts (message files, archive
// bundles, public keys) to an external destination after they are
// written locally. Publishing is always best-effort: the local file is
// the source of truth.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gitchat/internal/chat"
	"gitchat/internal/config"
)

const uploadTimeout = 60 * time.Second

// s3API is the slice of the uploader used here, extracted for tests.
type s3API interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher uploads repository files to an S3 bucket, keyed by their
// repository-relative path under an optional prefix.
type S3Publisher struct {
	uploader s3API
	bucket   string
	prefix   string
	repoRoot string
	logger   chat.Logger
}

// NewS3Publisher builds a publisher from the publish configuration.
// Static credentials from the config take precedence over the ambient
// AWS credential chain.
func NewS3Publisher(ctx context.Context, cfg config.PublishConfig, repoRoot string, logger chat.Logger) (*S3Publisher, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 publisher requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &S3Publisher{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		repoRoot: repoRoot,
		logger:   logger,
	}, nil
}

// Publish uploads the file at relPath. The author is recorded as object
// metadata. Implements chat.Publisher.
func (p *S3Publisher) Publish(relPath, author string) error {
	f, err := os.Open(filepath.Join(p.repoRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("opening %s: %w", relPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	key := path.Join(p.prefix, relPath)
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{"author": author},
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	p.logger.Info("published to s3", "bucket", p.bucket, "key", key)
	return nil
}
