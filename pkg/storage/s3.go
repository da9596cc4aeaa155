// Package storage moves recordings between the local dataset folder and an
// S3 bucket shared across rigs.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds S3 connection settings.
type Config struct {
	Region string
	Bucket string

	// Endpoint overrides the default S3 endpoint for MinIO and friends.
	Endpoint     string
	UsePathStyle bool

	// Static credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string

	OperationTimeout time.Duration
	TransferTimeout  time.Duration

	// Recordings regularly exceed a single PUT, so uploads go multipart.
	PartSize int64
}

// DefaultConfig returns transfer defaults for a bucket.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
		TransferTimeout:  30 * time.Minute,
		PartSize:         16 * 1024 * 1024,
	}
}

// Client wraps the AWS SDK client with bucket-scoped operations.
type Client struct {
	cfg    Config
	client *s3.Client
}

// NewClient builds an S3 client from the config.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.PartSize <= 0 {
		cfg.PartSize = 16 * 1024 * 1024
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Minute
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Reader streams an object. The returned size is the object's content length.
func (c *Client) Reader(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("get %s/%s: %w", c.cfg.Bucket, key, err)
	}

	return &cancelOnCloseReader{ReadCloser: out.Body, cancel: cancel},
		aws.ToInt64(out.ContentLength), nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Writer returns a multipart-uploading writer for the key. The object is not
// visible until Close succeeds.
func (c *Client) Writer(ctx context.Context, key string) io.WriteCloser {
	return &objectWriter{
		client: c.client,
		cfg:    c.cfg,
		key:    key,
		buf:    make([]byte, 0, c.cfg.PartSize),
	}
}

// objectWriter buffers up to one part and uploads multipart as parts fill.
// Small objects fall back to a single PUT on Close.
type objectWriter struct {
	client *s3.Client
	cfg    Config
	key    string

	mu       sync.Mutex
	buf      []byte
	parts    []types.CompletedPart
	uploadID string
	partNum  int32
	closed   bool
	err      error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("writer closed")
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)
	for int64(len(w.buf)) >= w.cfg.PartSize {
		if err := w.uploadPartLocked(); err != nil {
			w.err = err
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *objectWriter) uploadPartLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TransferTimeout)
	defer cancel()

	if w.uploadID == "" {
		out, err := w.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(w.cfg.Bucket),
			Key:    aws.String(w.key),
		})
		if err != nil {
			return fmt.Errorf("start multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(out.UploadId)
	}

	w.partNum++
	part := w.buf[:w.cfg.PartSize]

	out, err := w.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.cfg.Bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNum),
		Body:       &sliceReader{data: part},
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", w.partNum, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(w.partNum),
	})
	w.buf = w.buf[w.cfg.PartSize:]
	return nil
}

func (w *objectWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TransferTimeout)
	defer cancel()

	if w.uploadID == "" {
		_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.cfg.Bucket),
			Key:    aws.String(w.key),
			Body:   &sliceReader{data: w.buf},
		})
		return err
	}

	if len(w.buf) > 0 {
		w.partNum++
		out, err := w.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(w.cfg.Bucket),
			Key:        aws.String(w.key),
			UploadId:   aws.String(w.uploadID),
			PartNumber: aws.Int32(w.partNum),
			Body:       &sliceReader{data: w.buf},
		})
		if err != nil {
			return fmt.Errorf("upload final part: %w", err)
		}
		w.parts = append(w.parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(w.partNum),
		})
	}

	_, err := w.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.cfg.Bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	return err
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// ObjectInfo holds object metadata from list and stat calls.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Stat returns metadata for one object.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head %s/%s: %w", c.cfg.Bucket, key, err)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// List returns every object under a prefix, following pagination.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	var token *string

	for {
		out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", c.cfg.Bucket, prefix, err)
		}

		for _, obj := range out.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return objects, nil
}
