package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cwlworks/cwlrun/pkg/cwl"
)

// S3StagerConfig contains S3 stager settings.
type S3StagerConfig struct {
	// Region overrides the region resolved from the default AWS credential chain.
	Region string

	// Endpoint overrides the S3 endpoint, for S3-compatible object stores.
	Endpoint string

	// UploadBucket is the bucket stage-out writes results to.
	UploadBucket string

	// UploadPrefix is prepended to the per-task key on stage-out.
	UploadPrefix string

	// AccessKeyID/SecretAccessKey/SessionToken override the default AWS
	// credential chain with static credentials, for S3-compatible stores
	// (e.g. MinIO) that aren't reachable through the environment/shared
	// config/instance-role chain. Leave empty to use the default chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// S3Stager stages files to and from an S3-compatible object store using the
// AWS SDK's managed uploader/downloader, which handles multipart transfer
// for large files transparently.
type S3Stager struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
	cfg        S3StagerConfig
}

// NewS3Stager creates an S3Stager from the default AWS credential chain
// (environment, shared config, EC2/ECS instance role), optionally overridden
// by cfg.
func NewS3Stager(ctx context.Context, cfg S3StagerConfig) (*S3Stager, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 stager: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Stager{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
		cfg:        cfg,
	}, nil
}

// StageIn downloads an object from an s3:// location to destPath.
func (s *S3Stager) StageIn(ctx context.Context, location string, destPath string) error {
	scheme, path := cwl.ParseLocationScheme(location)
	if scheme != cwl.SchemeS3 {
		return fmt.Errorf("s3 stager: unsupported scheme %q", scheme)
	}

	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return fmt.Errorf("s3 stager: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("s3 stager: mkdir: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("s3 stager: create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := s.downloader.Download(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 stager: download s3://%s/%s: %w", bucket, key, err)
	}

	return nil
}

// StageOut uploads srcPath to the configured upload bucket/prefix, keyed by
// taskID, and returns the resulting s3:// location.
func (s *S3Stager) StageOut(ctx context.Context, srcPath string, taskID string) (string, error) {
	if s.cfg.UploadBucket == "" {
		return "", fmt.Errorf("s3 stager: no upload bucket configured")
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("s3 stager: open %s: %w", srcPath, err)
	}
	defer in.Close()

	key := strings.TrimPrefix(filepath.ToSlash(filepath.Join(s.cfg.UploadPrefix, taskID, filepath.Base(srcPath))), "/")

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.UploadBucket),
		Key:    aws.String(key),
		Body:   in,
	}); err != nil {
		return "", fmt.Errorf("s3 stager: upload %s: %w", srcPath, err)
	}

	return cwl.BuildLocation(cwl.SchemeS3, s.cfg.UploadBucket+"/"+key), nil
}

// splitBucketKey splits an s3 location path ("bucket/key/with/slashes") into
// its bucket and key parts.
func splitBucketKey(path string) (bucket, key string, err error) {
	idx := strings.Index(path, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("location %q missing bucket/key separator", path)
	}
	return path[:idx], path[idx+1:], nil
}
