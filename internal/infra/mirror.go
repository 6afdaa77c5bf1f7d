package infra

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MirrorConfig points at an S3-compatible bucket store (AWS, R2, MinIO)
// holding prebuilt archives. Empty fields fall back to the AWS defaults.
type MirrorConfig struct {
	Bucket    string // source archives are looked up here before upstream
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Mirror serves s3://bucket/key URLs.
type Mirror struct {
	Client *s3.Client
	Bucket string
}

// NewMirror initializes an S3 client from cfg.
func NewMirror(ctx context.Context, cfg MirrorConfig, debug bool) (*Mirror, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	options := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(cfg.Endpoint, "/"))
			o.UsePathStyle = true
		}
	})
	return &Mirror{Client: client, Bucket: cfg.Bucket}, nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return "", "", fmt.Errorf("not an s3://bucket/key URL: %s", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Enabled reports whether any mirror setting is present.
func (c MirrorConfig) Enabled() bool {
	return c.Bucket != "" || c.Endpoint != "" || c.AccessKey != ""
}

// SourceURL is where the mirror keeps a copy of a source archive.
func (m *Mirror) SourceURL(name string) string {
	if m == nil || m.Bucket == "" {
		return ""
	}
	return "s3://" + m.Bucket + "/" + name
}

// Fetch copies the object behind an s3:// URL into w and returns the number
// of bytes written.
func (m *Mirror) Fetch(ctx context.Context, raw string, w io.Writer) (int64, error) {
	bucket, key, err := ParseS3URL(raw)
	if err != nil {
		return 0, err
	}
	out, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("mirror get %s: %w", raw, err)
	}
	defer out.Body.Close()
	return io.Copy(w, out.Body)
}
