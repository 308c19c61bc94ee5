// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sinkfactory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/sink"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
	"github.com/ome-zarr/zarrstream/internal/zerrors"
)

// Factory builds the sink tree for one dataset root, per spec.md §4.4: for
// a filesystem root it creates directories in parallel on the thread pool;
// for an S3 root it verifies the bucket once, up front, and creates sinks
// lazily (S3 has no directory concept).
type Factory struct {
	root RootSpec
	pool *threadpool.Pool

	s3Pool    *sink.S3ConnectionPool
	s3Options sink.S3SinkOptions

	fsyncOnClose bool
	logger       *slog.Logger
}

// New resolves settings' root and, for an S3 root, dials the bucket and
// verifies it exists with HeadBucket before returning — a fatal
// construction-time error is cheaper than discovering a typo'd bucket name
// partway through a dataset's first flush.
func New(ctx context.Context, settings *config.Settings, pool *threadpool.Pool, logger *slog.Logger) (*Factory, error) {
	root := ParseRoot(settings)

	f := &Factory{root: root, pool: pool, logger: logger}

	if root.Kind != RootS3 {
		return f, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.S3.AccessKeyID, settings.S3.SecretAccessKey, "")),
		// S3-compatible stores addressed via a custom Endpoint rarely care
		// about region, but the SDK's signer requires one to be set.
		awsconfig.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.KindInvalidSettings, err, "loading AWS config for S3 root")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.S3.Endpoint != "" {
			o.BaseEndpoint = &settings.S3.Endpoint
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &settings.S3.Bucket}); err != nil {
		return nil, zerrors.Wrap(zerrors.KindInvalidSettings, err, "verifying s3 bucket %q", settings.S3.Bucket)
	}

	poolSize := settings.S3.ConnectionPoolSize
	if poolSize <= 0 {
		// Same sizing as threadpool.New: min(hardware, requested workers).
		poolSize = threadpool.HardwareConcurrency()
		if w := settings.ThreadPool.Workers; w > 0 && w < poolSize {
			poolSize = w
		}
	}
	f.s3Pool = sink.NewS3ConnectionPool(client, poolSize)

	return f, nil
}

// Root exposes the resolved root spec, used by streamcore's repeat-start
// guard to probe for a pre-existing dataset before creating any sinks.
func (f *Factory) Root() RootSpec { return f.root }

// MakeDataSinks creates one Sink per relPath: produces one sink per leaf
// (chunk in v2, shard in v3), per spec.md §4.4's make_data_sinks. The
// caller is responsible for enumerating relPaths in the required row-major
// order — SinkFactory's job is only resolving each relative path to a
// concrete Sink, not deciding the lattice order.
func (f *Factory) MakeDataSinks(relPaths []string) ([]sink.Sink, error) {
	if f.root.Kind == RootLocal {
		if err := f.createLocalDirs(relPaths); err != nil {
			return nil, err
		}
	}

	sinks := make([]sink.Sink, len(relPaths))
	for i, relPath := range relPaths {
		s, err := f.makeSink(relPath)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return sinks, nil
}

// MakeMetadataSinks creates the well-known metadata sinks keyed by their
// relative path (spec.md §4.4's make_metadata_sinks / §6's on-disk layout
// table).
func (f *Factory) MakeMetadataSinks(relPaths []string) (map[string]sink.Sink, error) {
	if f.root.Kind == RootLocal {
		if err := f.createLocalDirs(relPaths); err != nil {
			return nil, err
		}
	}

	sinks := make(map[string]sink.Sink, len(relPaths))
	for _, relPath := range relPaths {
		s, err := f.makeSink(relPath)
		if err != nil {
			return nil, err
		}
		sinks[relPath] = s
	}
	return sinks, nil
}

func (f *Factory) makeSink(relPath string) (sink.Sink, error) {
	switch f.root.Kind {
	case RootS3:
		return sink.NewS3Sink(context.Background(), f.s3Pool, f.root.S3Bucket, f.root.Join(relPath), f.s3Options, f.logger), nil
	default:
		return sink.NewFileSink(f.root.Join(relPath), f.fsyncOnClose, f.logger)
	}
}

// createLocalDirs creates the parent directory of every relPath, in
// parallel on the thread pool, deduplicating repeated parents. A path
// component that already exists as a non-directory is a fatal error
// (spec.md §4.4).
func (f *Factory) createLocalDirs(relPaths []string) error {
	seen := make(map[string]struct{}, len(relPaths))
	var dirs []string
	for _, relPath := range relPaths {
		dir := filepath.Dir(f.root.Join(relPath))
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	errs := make([]error, len(dirs))
	jobs := make([]threadpool.Job, len(dirs))
	for i, dir := range dirs {
		i, dir := i, dir
		jobs[i] = func() error {
			if info, err := os.Stat(dir); err == nil {
				if !info.IsDir() {
					errs[i] = zerrors.New(zerrors.KindIoError, "sink path %q exists and is not a directory", dir)
				}
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errs[i] = zerrors.Wrap(zerrors.KindIoError, err, "creating directory %q", dir)
			}
			return nil
		}
	}

	f.pool.Barrier(context.Background(), jobs)

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
