// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sinkfactory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ome-zarr/zarrstream/internal/config"
	"github.com/ome-zarr/zarrstream/internal/threadpool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestFactoryMakeDataSinksCreatesDirectoriesAndFiles(t *testing.T) {
	dir := t.TempDir()
	settings := &config.Settings{StorePath: dir}
	pool := threadpool.New(2, 4, nil, testLogger())
	defer pool.AwaitStop()

	f, err := New(context.Background(), settings, pool, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sinks, err := f.MakeDataSinks([]string{"0/0/0/0", "0/0/0/1", "0/1/0/0"})
	if err != nil {
		t.Fatalf("MakeDataSinks: %v", err)
	}
	if len(sinks) != 3 {
		t.Fatalf("len(sinks) = %d, want 3", len(sinks))
	}
	for i, s := range sinks {
		if !s.Write(0, []byte{byte(i)}) {
			t.Fatalf("sink %d write failed", i)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("sink %d close: %v", i, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "0/0/0/0")); err != nil {
		t.Fatalf("expected chunk file to exist: %v", err)
	}
}

func TestFactoryMakeMetadataSinks(t *testing.T) {
	dir := t.TempDir()
	settings := &config.Settings{StorePath: dir}
	pool := threadpool.New(2, 4, nil, testLogger())
	defer pool.AwaitStop()

	f, err := New(context.Background(), settings, pool, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sinks, err := f.MakeMetadataSinks([]string{".zgroup", ".zattrs", "0/.zarray"})
	if err != nil {
		t.Fatalf("MakeMetadataSinks: %v", err)
	}
	if len(sinks) != 3 {
		t.Fatalf("len(sinks) = %d, want 3", len(sinks))
	}
	for relPath, s := range sinks {
		if !s.Write(0, []byte("{}")) {
			t.Fatalf("sink %q write failed", relPath)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("sink %q close: %v", relPath, err)
		}
	}
}

func TestFactoryRejectsNonDirectoryCollision(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "0")
	if err := os.WriteFile(blocked, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	settings := &config.Settings{StorePath: dir}
	pool := threadpool.New(2, 4, nil, testLogger())
	defer pool.AwaitStop()

	f, err := New(context.Background(), settings, pool, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := f.MakeDataSinks([]string{"0/0/0/0"}); err == nil {
		t.Fatal("expected error when a path component collides with an existing file")
	}
}
