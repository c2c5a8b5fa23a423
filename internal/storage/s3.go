package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kebairia/backupd/internal/config"
)

// S3Backend stores artifacts with the AWS SDK. A custom endpoint switches
// to path-style addressing for S3-compatible stores.
type S3Backend struct {
	client   *s3.Client
	endpoint string
}

// NewS3Backend builds the S3 client. Static keys from cfg take precedence
// over the default AWS credential chain.
func NewS3Backend(ctx context.Context, cfg config.StorageConfig) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("s3: access key and secret key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{client: client, endpoint: endpoint}, nil
}

func withRegion(region string) func(*s3.Options) {
	return func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

// Exists reports whether key is present in bucket. S3 answers 403 for a
// missing key when the caller lacks s3:ListBucket, so a 403 is reported
// as ErrExistenceUnknown.
func (b *S3Backend) Exists(ctx context.Context, region, bucket, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, withRegion(region))
	if err == nil {
		return true, nil
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return false, nil
		case http.StatusForbidden:
			return false, fmt.Errorf("%w: %w", ErrExistenceUnknown, err)
		}
	}
	return false, err
}

// Put uploads localPath to bucket/key.
func (b *S3Backend) Put(ctx context.Context, region, bucket, key, localPath string) (map[string]string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	}, withRegion(region))
	if err != nil {
		return nil, err
	}

	data := map[string]string{
		"etag": strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if v := aws.ToString(out.VersionId); v != "" {
		data["version_id"] = v
	}
	return data, nil
}

// ObjectURL returns the virtual-hosted URL, or the path-style URL when a
// custom endpoint is configured.
func (b *S3Backend) ObjectURL(region, bucket, key string) string {
	if b.endpoint != "" {
		return b.endpoint + "/" + bucket + "/" + escapeKey(key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escapeKey(key))
}
