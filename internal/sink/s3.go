// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// minPartSize is the lowest part size S3 accepts for UploadPart, besides the
// final part of a multipart upload (spec.md §4.2, also the constant the
// nguyengg/xy3 s3writer package is built around).
const minPartSize = 5_242_880

// uploadPartMaxRetries bounds how many times a single part upload is
// retried before the sink gives up and aborts the multipart upload.
const uploadPartMaxRetries = 4

// s3API is the subset of *s3.Client the S3 sink needs. Narrowing the
// dependency to an interface, rather than taking *s3.Client directly, lets
// tests substitute an in-memory fake instead of talking to real AWS — the
// same seam nguyengg/xy3's s3writer.WriterClient draws.
type s3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Sink is the object-store variant of Sink (spec.md §4.2). It buffers
// writes locally and only talks to S3 once it is holding at least
// minPartSize bytes, at which point it starts (or continues) a multipart
// upload; if the sink is closed before ever reaching that threshold it does
// a single PutObject instead. Grounded on the buffering/threshold logic of
// the nguyengg/xy3 s3writer package, adapted from an io.Writer to Sink's
// offset-addressed Write(offset, data) contract: every Write's offset must
// equal the number of bytes accepted so far, since a Sink only ever sees
// the strictly-increasing, contiguous offsets one shard or chunk file
// produces.
type S3Sink struct {
	ctx     context.Context
	bucket  string
	key     string
	pool    *S3ConnectionPool
	limiter *rate.Limiter
	logger  *slog.Logger

	buf      bytes.Buffer
	written  uint64
	uploadID *string
	partNum  int32
	parts    []types.CompletedPart

	aborted bool
	failed  bool
}

// S3SinkOptions carries the tunables spec.md §4.3 exposes for the S3 sink.
type S3SinkOptions struct {
	// MaxBytesPerSecond throttles the sink's uploads; 0 means unlimited.
	MaxBytesPerSecond int64
}

// NewS3Sink creates a sink that uploads to bucket/key, borrowing a client
// handle from pool for every API call.
func NewS3Sink(ctx context.Context, pool *S3ConnectionPool, bucket, key string, opts S3SinkOptions, logger *slog.Logger) *S3Sink {
	var limiter *rate.Limiter
	if opts.MaxBytesPerSecond <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxBytesPerSecond), minPartSize)
	}
	return &S3Sink{
		ctx:     ctx,
		bucket:  bucket,
		key:     key,
		pool:    pool,
		limiter: limiter,
		logger:  logger,
	}
}

// Write appends data at offset, which must equal the number of bytes
// accepted so far. It returns false (a fatal stream error, per Sink) on any
// offset mismatch, upload failure, or once a prior Write has already
// failed.
func (s *S3Sink) Write(offset uint64, data []byte) bool {
	if s.failed {
		return false
	}
	if offset != s.written {
		s.logger.Error("s3 sink received out-of-order offset", "key", s.key, "offset", offset, "expected", s.written)
		s.failed = true
		return false
	}

	s.buf.Write(data)
	s.written += uint64(len(data))

	for s.buf.Len() >= minPartSize {
		part := make([]byte, minPartSize)
		copy(part, s.buf.Bytes()[:minPartSize])
		s.buf.Next(minPartSize)

		if err := s.uploadPart(part); err != nil {
			s.logger.Error("s3 sink part upload failed", "key", s.key, "part", s.partNum, "error", err)
			s.abortOnFailure()
			s.failed = true
			return false
		}
	}

	return true
}

// Close flushes any buffered tail, either via a final UploadPart (if a
// multipart upload is already in progress) or via a single PutObject (if
// the whole object was smaller than minPartSize), and completes the
// multipart upload if one was started.
func (s *S3Sink) Close() error {
	if s.failed {
		return zerrors.New(zerrors.KindIoError, "s3 sink %q already failed", s.key)
	}

	if s.uploadID == nil {
		if err := s.putObject(s.buf.Bytes()); err != nil {
			return zerrors.Wrap(zerrors.KindIoError, err, "s3 sink %q: put object", s.key)
		}
		return nil
	}

	if s.buf.Len() > 0 {
		if err := s.uploadPart(s.buf.Bytes()); err != nil {
			s.abortOnFailure()
			return zerrors.Wrap(zerrors.KindIoError, err, "s3 sink %q: final part upload", s.key)
		}
	}

	if err := s.completeMultipartUpload(); err != nil {
		s.abortOnFailure()
		return zerrors.Wrap(zerrors.KindIoError, err, "s3 sink %q: complete multipart upload", s.key)
	}
	return nil
}

func (s *S3Sink) putObject(data []byte) error {
	client, err := s.pool.GetConnection(s.ctx)
	if err != nil {
		return err
	}
	defer s.pool.ReturnConnection()

	if err := s.limiter.WaitN(s.ctx, clampBurst(len(data), s.limiter)); err != nil {
		return err
	}

	_, err = client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3Sink) uploadPart(data []byte) error {
	if s.uploadID == nil {
		if err := s.createMultipartUpload(); err != nil {
			return err
		}
	}

	s.partNum++
	partNum := s.partNum

	client, err := s.pool.GetConnection(s.ctx)
	if err != nil {
		return err
	}
	defer s.pool.ReturnConnection()

	if err := s.limiter.WaitN(s.ctx, clampBurst(len(data), s.limiter)); err != nil {
		return err
	}

	var output *s3.UploadPartOutput
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uploadPartMaxRetries), s.ctx)
	retryErr := backoff.Retry(func() error {
		var uploadErr error
		output, uploadErr = client.UploadPart(s.ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.key),
			UploadId:   s.uploadID,
			PartNumber: aws.Int32(partNum),
			Body:       bytes.NewReader(data),
		})
		return uploadErr
	}, policy)
	if retryErr != nil {
		return retryErr
	}

	s.parts = append(s.parts, types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(partNum),
	})
	return nil
}

func (s *S3Sink) createMultipartUpload() error {
	client, err := s.pool.GetConnection(s.ctx)
	if err != nil {
		return err
	}
	defer s.pool.ReturnConnection()

	output, err := client.CreateMultipartUpload(s.ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return err
	}
	s.uploadID = output.UploadId
	return nil
}

func (s *S3Sink) completeMultipartUpload() error {
	client, err := s.pool.GetConnection(s.ctx)
	if err != nil {
		return err
	}
	defer s.pool.ReturnConnection()

	_, err = client.CompleteMultipartUpload(s.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key),
		UploadId:        s.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: s.parts},
	})
	return err
}

// abortOnFailure aborts the in-progress multipart upload, if any, so S3
// does not keep billing for orphaned parts. Errors from the abort itself
// are logged, not returned: the caller already has a failure to report.
func (s *S3Sink) abortOnFailure() {
	if s.uploadID == nil || s.aborted {
		return
	}
	s.aborted = true

	client, err := s.pool.GetConnection(context.Background())
	if err != nil {
		s.logger.Error("s3 sink abort: could not obtain connection", "key", s.key, "error", err)
		return
	}
	defer s.pool.ReturnConnection()

	if _, err := client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: s.uploadID,
	}); err != nil {
		s.logger.Error("s3 sink abort multipart upload failed", "key", s.key, "error", err)
	}
}

func clampBurst(n int, limiter *rate.Limiter) int {
	if b := limiter.Burst(); b > 0 && n > b {
		return b
	}
	return n
}
