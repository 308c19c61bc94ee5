// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ome-zarr/zarrstream"
)

func main() {
	configPath := flag.String("config", "./zarrstream.yaml", "path to stream settings file")
	framesDir := flag.String("frames", "", "directory of raw plane files, one frame per file, fed in sorted filename order")
	flag.Parse()

	if *framesDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -frames is required")
		os.Exit(1)
	}

	settings, err := zarrstream.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
		os.Exit(1)
	}

	stream, err := zarrstream.New(context.Background(), settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing stream: %v\n", err)
		os.Exit(1)
	}

	if err := feedFrames(stream, *framesDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error feeding frames: %v\n", err)
		stream.Close()
		os.Exit(1)
	}

	if err := stream.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing stream: %v\n", err)
		os.Exit(1)
	}
}

// feedFrames reads every regular file in dir, in sorted filename order, and
// appends its raw bytes to stream as one plane per file.
func feedFrames(stream *zarrstream.Stream, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading frames directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("reading frame %q: %w", name, err)
		}
		if _, err := stream.Append(data); err != nil {
			return fmt.Errorf("appending frame %q: %w", name, err)
		}
	}
	return nil
}
