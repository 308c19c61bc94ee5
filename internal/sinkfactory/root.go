// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sinkfactory implements SinkFactory (spec.md §4.4): turning a
// Settings root into a concrete sink tree, filesystem directories created
// in parallel on the thread pool, or an S3 bucket verified once up front.
package sinkfactory

import (
	"path/filepath"
	"strings"

	"github.com/ome-zarr/zarrstream/internal/config"
)

// RootKind distinguishes the two sink backends a Settings.StorePath can
// resolve to.
type RootKind int

const (
	RootLocal RootKind = iota
	RootS3
)

// RootSpec is the resolved form of Settings.StorePath plus Settings.S3
// (spec.md §12's "store_path file:// prefix stripping and S3 key-prefix
// reuse of store_path").
type RootSpec struct {
	Kind RootKind

	// LocalDir is the filesystem directory backing the dataset, set when
	// Kind == RootLocal.
	LocalDir string

	// S3Bucket/S3KeyPrefix address the dataset root in an S3-compatible
	// store, set when Kind == RootS3. S3KeyPrefix reuses Settings.StorePath
	// (already stripped of its "file://" prefix by config.Settings.Validate)
	// as the key prefix, joined with "/" to every relative path the caller
	// asks for.
	S3Bucket    string
	S3KeyPrefix string
}

// ParseRoot resolves settings.StorePath (and settings.S3, if present) into
// a RootSpec. settings must already have passed Settings.Validate.
func ParseRoot(settings *config.Settings) RootSpec {
	if settings.S3 != nil {
		return RootSpec{
			Kind:        RootS3,
			S3Bucket:    settings.S3.Bucket,
			S3KeyPrefix: strings.Trim(settings.StorePath, "/"),
		}
	}
	return RootSpec{
		Kind:     RootLocal,
		LocalDir: settings.StorePath,
	}
}

// Join appends a "/"-separated relative path to the root, producing either
// a filesystem path or an S3 object key.
func (r RootSpec) Join(relPath string) string {
	relPath = strings.TrimPrefix(relPath, "/")
	switch r.Kind {
	case RootS3:
		if r.S3KeyPrefix == "" {
			return relPath
		}
		return r.S3KeyPrefix + "/" + relPath
	default:
		return filepath.Join(r.LocalDir, filepath.FromSlash(relPath))
	}
}
