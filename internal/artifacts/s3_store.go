// Package artifacts implements the Launcher's output sync (spec §4.11
// step 4: "synchronise output files to external storage"). Grounded on
// the teacher's internal/artifacts/s3_store.go S3Store, adapted here
// from a generic artifact-ID Put/Get/Delete/Exists store into a
// directory-sync: the Launcher hands it a completed job's whole output
// directory and it walks and uploads every file under the job's prefix.
package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3-compatible output sync destination.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3OutputSync uploads a job's output directory to an S3-compatible
// bucket, implementing internal/launcher.OutputSync.
type S3OutputSync struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3OutputSync builds an S3OutputSync from cfg. An empty cfg.Bucket
// is a caller error, not a silent no-op; callers that want sync
// disabled should keep using launcher.NoopOutputSync instead of calling
// this constructor.
func NewS3OutputSync(ctx context.Context, cfg S3Config) (*S3OutputSync, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3OutputSync{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Sync uploads every regular file under dir to
// s3://bucket/prefix/slug/<relative path>, matching
// internal/launcher.OutputSync's contract. Partial failure aborts the
// walk and returns the first error; already-uploaded files are left in
// place since a retried sync simply overwrites them.
func (s *S3OutputSync) Sync(ctx context.Context, slug, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := s.objectKey(slug, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("artifacts: open %s: %w", p, err)
		}
		defer f.Close()

		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
			Body:   f,
		}); err != nil {
			return fmt.Errorf("artifacts: put %s: %w", key, err)
		}
		return nil
	})
}

func (s *S3OutputSync) objectKey(slug, relPath string) string {
	key := path.Join(slug, relPath)
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}
