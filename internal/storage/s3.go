package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/jakub-figat/chromatin/internal/core"
)

// DefaultKeyPrefix is prepended to every object key written by S3Backend.
const DefaultKeyPrefix = "sequences/"

var _ core.BlobStore = (*S3Backend)(nil)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO; it also switches to path-style addressing.
	Endpoint   string
	KeyPrefix  string
	MaxRetries int
	HTTPClient *http.Client
}

// S3Backend stores blobs as objects in a single bucket. Locators are object keys.
type S3Backend struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend builds an S3 client from cfg. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region).WithMaxRetries(cfg.MaxRetries)
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	if cfg.HTTPClient != nil {
		awsCfg = awsCfg.WithHTTPClient(cfg.HTTPClient)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3BackendWithClient(s3.New(sess), cfg), nil
}

// NewS3BackendWithClient wraps an existing S3 client.
func NewS3BackendWithClient(client s3iface.S3API, cfg S3Config) *S3Backend {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &S3Backend{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   cfg.Bucket,
		prefix:   prefix,
	}
}

// Save uploads content to a new uniquely named object.
func (b *S3Backend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	key := b.prefix + blobName(name)
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", core.ErrStorage, key, err)
	}
	return key, nil
}

// Read downloads the whole object.
func (b *S3Backend) Read(ctx context.Context, locator string) ([]byte, error) {
	body, err := b.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrStorage, locator, err)
	}
	return data, nil
}

// ReadChunks streams the object body in chunkSize pieces, issuing a new GET on every iteration.
func (b *S3Backend) ReadChunks(ctx context.Context, locator string, chunkSize int) iter.Seq2[[]byte, error] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		body, err := b.open(ctx, locator)
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()
		yieldChunks(ctx, body, chunkSize, yield)
	}
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, locator string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(locator),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %w", core.ErrStorage, locator, err)
	}
	return nil
}

// Exists issues a HEAD request for the object.
func (b *S3Backend) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(locator),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: head %s: %w", core.ErrStorage, locator, err)
}

func (b *S3Backend) open(ctx context.Context, locator string) (io.ReadCloser, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, locator)
		}
		return nil, fmt.Errorf("%w: get %s: %w", core.ErrStorage, locator, err)
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
