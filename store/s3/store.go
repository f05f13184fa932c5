// Package s3 provides a bundle store backed by an S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/meigma/patchcdn/internal/record"
	"github.com/meigma/patchcdn/store"
)

// maxDeleteBatch is the per-request key limit of DeleteObjects.
const maxDeleteBatch = 1000

// Store implements store.Store on an S3 bucket. Every entry is an object
// named Prefix + key.String(), so a patch namespace is an object prefix.
type Store struct {
	svc    s3iface.S3API
	bucket string
	prefix string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the object key prefix. A trailing slash is added if missing.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		s.prefix = prefix
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a store using svc for all requests.
func New(svc s3iface.S3API, bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket is empty")
	}
	s := &Store{svc: svc, bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Config selects the S3 endpoint for NewFromConfig.
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// PathStyle forces path-style addressing. Localhost endpoints always
	// use it.
	PathStyle bool
}

// NewFromConfig creates a session from cfg and the default credential chain.
// Endpoints on localhost use plain HTTP and path-style addressing, which
// suits local MinIO deployments.
func NewFromConfig(cfg Config, opts ...Option) (*Store, error) {
	conf := &aws.Config{}
	if cfg.Region != "" {
		conf.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		conf.Endpoint = aws.String(cfg.Endpoint)
		if conf.Region == nil {
			conf.Region = aws.String("us-east-1")
		}
		if strings.Contains(cfg.Endpoint, "localhost") || strings.Contains(cfg.Endpoint, "127.0.0.1") {
			conf.DisableSSL = aws.Bool(true)
			conf.S3ForcePathStyle = aws.Bool(true)
		}
	}
	if cfg.PathStyle {
		conf.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, fmt.Errorf("s3: creating session: %w", err)
	}
	return New(s3.New(sess), cfg.Bucket, append([]Option{WithPrefix(cfg.Prefix)}, opts...)...)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key store.Key) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotExist
		}
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", key, err)
	}

	data, err := record.Decode(key.String(), b)
	if err != nil {
		s.logger.Warn("discarding invalid store entry", "key", key.String(), "error", err)
		if delErr := s.Delete(ctx, key); delErr != nil {
			s.logger.Warn("deleting invalid store entry", "key", key.String(), "error", delErr)
		}
		return nil, store.ErrNotExist
	}
	return data, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key store.Key, data []byte) error {
	b, err := record.Encode(key.String(), data)
	if err != nil {
		return err
	}
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("application/cbor"),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

// DeleteNamespace implements store.Store. It lists every object under the
// patch prefix and removes them in batches.
func (s *Store) DeleteNamespace(ctx context.Context, patch string) error {
	var keys []string
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.namespacePrefix(patch)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, item := range page.Contents {
			keys = append(keys, aws.StringValue(item.Key))
		}
		return !lastPage
	})
	if err != nil {
		return fmt.Errorf("s3: list namespace %q: %w", patch, err)
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]
		objects := make([]*s3.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objects[i] = &s3.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3: delete namespace %q: %w", patch, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("s3: delete namespace %q: %d objects failed, first %s: %s",
				patch, len(out.Errors), aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
	}
	s.logger.Debug("deleted store namespace", "patch", patch, "objects", len(keys))
	return nil
}

func (s *Store) objectKey(key store.Key) string {
	return s.prefix + key.String()
}

func (s *Store) namespacePrefix(patch string) string {
	return s.prefix + patch + "/"
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

var _ store.Store = (*Store)(nil)
