package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

// S3Store keeps objects in one bucket under an optional prefix.
type S3Store struct {
	session *session.Session
	client  *s3.S3
	bucket  string
	prefix  string
	logger  logger.Logger
}

var _ service.AssetStore = (*S3Store)(nil)

// NewS3Session builds a session from the assets config. Credentials come from
// the default AWS chain. A custom endpoint (MinIO, Ceph) switches to path-style addressing.
func NewS3Session(cfg *config.AssetsConfig) (*session.Session, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}
	return sess, nil
}

// NewS3Store creates a store on an existing session.
func NewS3Store(sess *session.Session, bucket, prefix string, log logger.Logger) *S3Store {
	return &S3Store{
		session: sess,
		client:  s3.New(sess),
		bucket:  bucket,
		prefix:  prefix,
		logger:  log.WithComponent("asset-store"),
	}
}

func (c *S3Store) objectName(key string) string {
	if c.prefix == "" {
		return key
	}
	return path.Join(c.prefix, key)
}

// Put uploads body with the multipart-capable uploader.
func (c *S3Store) Put(ctx context.Context, key string, body io.Reader) error {
	objectName := c.objectName(key)
	uploader := s3manager.NewUploader(c.session)
	_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectName),
		Body:   body,
	})
	if err != nil {
		c.logger.Error(ctx, "Unable to upload asset", err,
			logger.String("bucket", c.bucket),
			logger.String("key", objectName),
		)
		return fmt.Errorf("upload %s to bucket %s: %w", objectName, c.bucket, err)
	}
	c.logger.Info(ctx, "Stored asset", logger.String("bucket", c.bucket), logger.String("key", objectName))
	return nil
}

// Open streams an object, mapping a missing key to errors.ErrNotFound.
func (c *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectName := c.objectName(key)
	resp, err := c.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, objectName)
		}
		return nil, fmt.Errorf("get %s from bucket %s: %w", objectName, c.bucket, err)
	}
	return resp.Body, nil
}
