// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package threadpool implements a bounded worker pool executing fallible
// jobs (spec.md §4.1). The teacher has no generic pool of its own — its
// concurrency is all protocol-specific — so this is grounded on the
// channel-of-closures pattern common across the example pack (bounded
// worker count draining a FIFO job channel, condition-variable-free
// signalling) rather than on a single teacher file.
package threadpool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Job is a fallible unit of work submitted to the pool. A non-nil error is
// delivered to the pool's ErrorHandler; it is never returned to the caller
// of Submit, matching spec.md's "non-blocking enqueue" contract.
type Job func() error

// ErrorHandler receives the error string from a failed Job.
type ErrorHandler func(err error)

// HardwareConcurrency reports the number of logical CPUs to size a pool
// against, preferring gopsutil's cpu.Counts (which accounts for cgroup CPU
// quotas on containerized hosts) and falling back to runtime.NumCPU when
// gopsutil can't determine it.
func HardwareConcurrency() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Pool is a fixed-size worker pool. Workers are started at construction and
// run until AwaitStop; Submit after that point panics, matching
// spec.md's "submit is forbidden" contract (a program bug, not a runtime
// condition a caller should recover from).
type Pool struct {
	jobs    chan Job
	onError ErrorHandler
	logger  *slog.Logger

	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

// New starts a pool of min(HardwareConcurrency(), requested) workers
// (minimum 1). queueDepth bounds the number of jobs buffered ahead of the
// workers; Submit blocks once the queue is full rather than growing it
// unboundedly, matching spec.md's "mutex-protected FIFO" sizing intent.
func New(requested, queueDepth int, onError ErrorHandler, logger *slog.Logger) *Pool {
	workers := HardwareConcurrency()
	if requested > 0 && requested < workers {
		workers = requested
	}
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = workers
	}
	if onError == nil {
		onError = func(error) {}
	}
	p := &Pool{
		jobs:    make(chan Job, queueDepth),
		onError: onError,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	logger.Info("thread pool started", "workers", workers, "queue_depth", queueDepth)
	return p
}

func (p *Pool) runWorker(idx int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runJob(idx, job)
	}
}

// runJob isolates a single job's panic so one bad job cannot take down a
// worker goroutine, matching spec.md's "jobs do not propagate panics".
func (p *Pool) runJob(idx int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.onError(panicError{idx: idx, recovered: r})
		}
	}()
	if err := job(); err != nil {
		p.onError(err)
	}
}

// Submit enqueues job for execution by some worker. It blocks only if the
// internal queue is full; it never blocks waiting for the job to run or
// complete.
func (p *Pool) Submit(job Job) {
	select {
	case <-p.stopped:
		panic("threadpool: Submit called after AwaitStop")
	default:
	}
	p.jobs <- job
}

// AwaitStop drains the queue, then joins all workers. After it returns,
// Submit is forbidden.
func (p *Pool) AwaitStop() {
	p.once.Do(func() {
		close(p.stopped)
		close(p.jobs)
	})
	p.wg.Wait()
}

// Barrier submits jobs and blocks until every one of them has run, for
// callers that need a synchronous fan-out/fan-in (spec.md §4.7's
// per-chunk-row flush barrier). Job errors go to onError as usual; Barrier
// itself returns nothing, so it does not report how many jobs failed.
func (p *Pool) Barrier(ctx context.Context, jobs []Job) {
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, j := range jobs {
		j := j
		p.Submit(func() error {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return j()
		})
	}
	wg.Wait()
}

type panicError struct {
	idx       int
	recovered any
}

func (e panicError) Error() string {
	return "threadpool: worker panic recovered"
}
