// Package blob moves input extracts and report files between the local disk
// and an S3-compatible bucket (AWS S3 or MinIO).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds connection parameters. Without static keys, credentials come
// from the default AWS chain (env, shared config, instance role).
type Config struct {
	Region          string
	Endpoint        string // optional, e.g. a MinIO URL
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// objectAPI is the part of *s3.Client the package uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client downloads and uploads whole objects.
type Client struct {
	api objectAPI
}

// New builds a client from cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Client{api: client}, nil
}

// IsURL reports whether s names an object ("s3://bucket/key").
func IsURL(s string) bool { return strings.HasPrefix(s, "s3://") }

// ParseURL splits "s3://bucket/key" into bucket and key.
func ParseURL(s string) (bucket, key string, err error) {
	if !IsURL(s) {
		return "", "", fmt.Errorf("blob: %q is not an s3:// URL", s)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(s, "s3://"), "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("blob: %q must name a bucket and an object key", s)
	}
	return bucket, key, nil
}

// Fetch downloads the object named by url into dir and returns the local
// path. The file keeps the object's base name so reports derived from it
// are named the same way as for local input.
func (c *Client) Fetch(ctx context.Context, url, dir string) (string, error) {
	bucket, key, err := ParseURL(url)
	if err != nil {
		return "", err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", fmt.Errorf("blob: get %s: %w", url, err)
	}
	defer out.Body.Close()

	dst := filepath.Join(dir, path.Base(key))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("blob: create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("blob: download %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("blob: close %s: %w", dst, err)
	}
	return dst, nil
}

// Upload stores the local file at bucket/key.
func (c *Client) Upload(ctx context.Context, bucket, key, local string) error {
	if bucket == "" {
		return errors.New("blob: bucket required")
	}
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("blob: open %s: %w", local, err)
	}
	defer f.Close()

	in := &s3.PutObjectInput{Bucket: &bucket, Key: &key, Body: f}
	if ct := contentType(local); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("blob: put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	}
	return ""
}
