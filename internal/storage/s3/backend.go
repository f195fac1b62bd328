// Package s3 implements storage.Backend on an S3-compatible object store
// using the AWS SDK for Go v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/storage"
)

// MinPartSize is the smallest part S3 accepts for any but the last part.
const MinPartSize = 5 * 1024 * 1024

// Client is the subset of *s3.Client used by the backend.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Config holds connection settings for the object store.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string

	// PartSize is the multipart chunk size. Values below MinPartSize are raised.
	PartSize int64
}

// Backend stores blobs as objects in a single bucket.
type Backend struct {
	client   Client
	bucket   string
	prefix   string
	partSize int64
	logger   zerolog.Logger
}

// NewClient builds an *s3.Client from static credentials and an optional custom endpoint.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New returns a Backend using client.
func New(client Client, cfg Config, logger zerolog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}
	part := cfg.PartSize
	if part < MinPartSize {
		part = MinPartSize
	}
	return &Backend{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		partSize: part,
		logger:   logger.With().Str("component", "s3_storage").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func (b *Backend) objectKey(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	if b.prefix == "" {
		return key, nil
	}
	return b.prefix + "/" + key, nil
}

// Save implements storage.Backend.
// Content that fits in one part is sent with PutObject; larger content is
// streamed as a multipart upload so at most one part is held in memory.
func (b *Backend) Save(ctx context.Context, key string, reader io.Reader) (int64, error) {
	objKey, err := b.objectKey(key)
	if err != nil {
		return 0, storage.NewError("save", key, err)
	}

	first, err := readPart(reader, b.partSize)
	if err != nil {
		return 0, storage.NewError("save", key, err)
	}
	if int64(len(first)) < b.partSize {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(objKey),
			Body:          bytes.NewReader(first),
			ContentLength: aws.Int64(int64(len(first))),
		})
		if err != nil {
			return 0, storage.NewError("save", key, err)
		}
		return int64(len(first)), nil
	}

	return b.saveMultipart(ctx, key, objKey, first, reader)
}

func (b *Backend) saveMultipart(ctx context.Context, key, objectKey string, first []byte, reader io.Reader) (int64, error) {
	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return 0, storage.NewError("save", key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (int64, error) {
		// Abort with a fresh context so a cancelled upload is still cleaned up.
		_, aerr := b.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(objectKey),
			UploadId: uploadID,
		})
		if aerr != nil {
			b.logger.Warn().Err(aerr).Str("key", key).Msg("failed to abort multipart upload")
		}
		return 0, storage.NewError("save", key, cause)
	}

	var (
		parts   []types.CompletedPart
		written int64
		part    = first
		number  int32
	)
	for len(part) > 0 {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		number++
		out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(objectKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          bytes.NewReader(part),
			ContentLength: aws.Int64(int64(len(part))),
		})
		if err != nil {
			return abort(err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
		written += int64(len(part))

		part, err = readPart(reader, b.partSize)
		if err != nil {
			return abort(err)
		}
	}

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(objectKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(err)
	}

	b.logger.Debug().Str("key", key).Int64("bytes", written).Int("parts", len(parts)).Msg("multipart upload complete")
	return written, nil
}

// Load implements storage.Backend.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey, err := b.objectKey(key)
	if err != nil {
		return nil, storage.NewError("load", key, err)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return nil, storage.NewError("load", key, mapNotFound(err))
	}
	return out.Body, nil
}

// Delete implements storage.Backend. S3 deletes are idempotent.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	objKey, err := b.objectKey(key)
	if err != nil {
		return false, storage.NewError("delete", key, err)
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil && !isNotFound(err) {
		return false, storage.NewError("delete", key, err)
	}
	return true, nil
}

// Exists implements storage.Backend.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := b.GetSize(ctx, key)
	return found, err
}

// GetSize implements storage.Backend.
func (b *Backend) GetSize(ctx context.Context, key string) (int64, bool, error) {
	objKey, err := b.objectKey(key)
	if err != nil {
		return 0, false, storage.NewError("size", key, err)
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, storage.NewError("size", key, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// Move implements storage.Backend.
// S3 has no rename; the object is copied server-side, which publishes the
// final key in one step, and the source is removed afterwards.
func (b *Backend) Move(ctx context.Context, tempKey, finalKey string) (bool, error) {
	src, err := b.objectKey(tempKey)
	if err != nil {
		return false, storage.NewError("move", tempKey, err)
	}
	dst, err := b.objectKey(finalKey)
	if err != nil {
		return false, storage.NewError("move", finalKey, err)
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(b.bucket + "/" + src),
	})
	if err != nil {
		return false, storage.NewError("move", tempKey, mapNotFound(err))
	}

	if _, err := b.Delete(ctx, tempKey); err != nil {
		b.logger.Warn().Err(err).Str("key", tempKey).Msg("failed to remove source after copy")
	}
	return true, nil
}

// readPart reads up to size bytes. A short or empty result means EOF.
func readPart(r io.Reader, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func mapNotFound(err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", storage.ErrBlobNotFound, err)
	}
	return err
}

var _ storage.Backend = (*Backend)(nil)
