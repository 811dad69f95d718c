// Package artifact copies checkpoints to S3-compatible object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config selects the bucket checkpoints are copied to. An empty Bucket
// disables uploads.
type Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Endpoint points at a non-AWS service such as MinIO; path-style
	// addressing is used when it is set.
	Endpoint string `yaml:"endpoint"`
	// Static credentials; the default AWS chain is used when AccessKey
	// is empty.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// PutObjectAPI is the part of the S3 client an Uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader puts local files under Prefix in Bucket, keyed by base name.
type Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

func NewUploader(client PutObjectAPI, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Uploader builds an S3 client from cfg and the environment.
func NewS3Uploader(ctx context.Context, cfg Config) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, errors.New("artifact: no bucket configured")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewUploader(client, cfg.Bucket, cfg.Prefix), nil
}

// Key is the object key file is stored under.
func (u *Uploader) Key(file string) string {
	return path.Join(u.prefix, filepath.Base(file))
}

func (u *Uploader) Upload(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	key := u.Key(file)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("artifact: put s3://%s/%s: %s: %s", u.bucket, key, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("artifact: put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
