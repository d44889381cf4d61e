// Package s3 provides an ObjectStore backend for S3-compatible stores using
// aws-sdk-go-v2. Part capabilities are native presigned UploadPart URLs, so
// part bodies flow directly between the client and the store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/arkivehq/arkive"
)

// API is the subset of the S3 client the store uses. Kept narrow so tests
// can substitute a fake.
type API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// PresignAPI is the subset of the S3 presign client the store uses.
type PresignAPI interface {
	PresignUploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store is an S3-backed ObjectStore scoped to one bucket.
type Store struct {
	client  API
	presign PresignAPI
	bucket  string
}

// New creates a Store from an AWS config and bucket name.
func New(cfg aws.Config, bucket string, optFns ...func(*awss3.Options)) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("new s3 store: %w: bucket is required", arkive.ErrInvalidInput)
	}
	client := awss3.NewFromConfig(cfg, optFns...)
	return &Store{
		client:  client,
		presign: awss3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

// NewWithClients creates a Store from pre-built clients. Used by tests.
func NewWithClients(client API, presign PresignAPI, bucket string) *Store {
	return &Store{client: client, presign: presign, bucket: bucket}
}

// Put writes the whole object in one call and returns the store ETag as the
// content fingerprint.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader, size int64) (string, error) {
	out, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          content,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %q: %w", key, err)
	}
	return trimQuotes(aws.ToString(out.ETag)), nil
}

// CreateMultipart opens a store-side multi-part upload and returns its ID.
func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 create multipart %q: %w", key, err)
	}
	return aws.ToString(out.UploadId), nil
}

// PresignPart issues a presigned UploadPart URL scoped to one part.
func (s *Store) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (arkive.Capability, error) {
	req, err := s.presign.PresignUploadPart(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, func(o *awss3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return arkive.Capability{}, fmt.Errorf("s3 presign part %d of %q: %w", partNumber, key, err)
	}
	return arkive.Capability{
		URL:        req.URL,
		PartNumber: partNumber,
		ExpiresAt:  time.Now().UTC().Add(ttl),
	}, nil
}

// CompleteMultipart commits the upload by supplying ordered part receipts.
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []arkive.PartRecord) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.Receipt),
			PartNumber: aws.Int32(int32(p.Number)),
		}
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", fmt.Errorf("s3 complete multipart %q: %w", key, err)
	}
	return trimQuotes(aws.ToString(out.ETag)), nil
}

// AbortMultipart releases store-side resources for the upload. S3 treats
// aborting an unknown upload as NoSuchUpload; that is swallowed so abort
// stays idempotent.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var nsu *types.NoSuchUpload
		if errors.As(err, &nsu) {
			return nil
		}
		return fmt.Errorf("s3 abort multipart %q: %w", uploadID, err)
	}
	return nil
}

// PresignGet issues a presigned GetObject URL.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *awss3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("s3 presign get %q: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes a committed object.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
