package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config holds settings for an S3 (or S3-compatible) bucket.
type S3Config struct {
	Region   string
	Endpoint string // empty for AWS
	Bucket   string
	// Creds overrides the default AWS credential chain when set.
	Creds *credentials.Credentials
}

// S3Credentials builds a provider from fixed access keys. Empty keys give nil
// so the session resolves the default AWS credential chain.
func S3Credentials(accessKey, secretKey string) *credentials.Credentials {
	if accessKey == "" && secretKey == "" {
		return nil
	}
	return credentials.NewStaticCredentials(accessKey, secretKey, "")
}

// S3Client implements ObjectStorage on top of the AWS SDK.
type S3Client struct {
	api      s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Client creates an S3 storage client.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: cfg.Creds,
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	api := s3.New(sess)
	return &S3Client{
		api:      api,
		uploader: s3manager.NewUploaderWithClient(api),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads an object; large bodies are sent as multipart uploads.
func (c *S3Client) Put(ctx context.Context, key string, reader io.Reader) error {
	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

// Get opens an object for reading. The caller must close it.
func (c *S3Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from s3: %w", err)
	}
	return out.Body, nil
}

// Exists reports whether key is present in the bucket.
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object: %w", err)
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
