// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// s3PoolAcquireTimeout bounds how long GetConnection waits for a free slot
// before reporting backpressure to the caller, mirroring the teacher's
// chunkBufferPushTimeout.
const s3PoolAcquireTimeout = 30 * time.Second

// S3ConnectionPool bounds the number of S3 uploads in flight at once to
// config.S3Settings.ConnectionPoolSize (spec.md §4.2). An *s3.Client is
// already safe for concurrent use and keeps its own HTTP connection pool, so
// unlike a real handle pool this one hands out the same client to every
// caller; its only job is to gate concurrency with a CAS-reserved capacity
// counter, the same pattern the teacher's ChunkBuffer.Push uses to reserve
// byte capacity before admitting a chunk (internal/server/chunkbuffer.go).
// client is held as the narrow s3API interface rather than *s3.Client so
// tests can substitute an in-memory fake.
type S3ConnectionPool struct {
	client   s3API
	capacity int64

	inUse atomic.Int64
}

// NewS3ConnectionPool creates a pool gating at most capacity concurrent
// uploads through client. capacity <= 0 is normalized to 1.
func NewS3ConnectionPool(client s3API, capacity int) *S3ConnectionPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &S3ConnectionPool{
		client:   client,
		capacity: int64(capacity),
	}
}

// GetConnection reserves a slot and returns the shared S3 client. The
// reservation is released by calling ReturnConnection exactly once. It
// returns an error if capacity is not available within s3PoolAcquireTimeout
// or ctx is canceled first.
func (p *S3ConnectionPool) GetConnection(ctx context.Context) (s3API, error) {
	for {
		current := p.inUse.Load()
		if current >= p.capacity {
			break
		}
		if p.inUse.CompareAndSwap(current, current+1) {
			return p.client, nil
		}
	}

	timer := time.NewTimer(s3PoolAcquireTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("s3 connection pool: no slot available after %s", s3PoolAcquireTimeout)
		default:
		}

		current := p.inUse.Load()
		if current < p.capacity && p.inUse.CompareAndSwap(current, current+1) {
			return p.client, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("s3 connection pool: no slot available after %s", s3PoolAcquireTimeout)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ReturnConnection releases a slot acquired via GetConnection. Calling it
// without a matching GetConnection is a caller bug.
func (p *S3ConnectionPool) ReturnConnection() {
	for {
		current := p.inUse.Load()
		if current == 0 {
			return
		}
		if p.inUse.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// InUse reports the current number of reserved slots, for metrics/tests.
func (p *S3ConnectionPool) InUse() int64 {
	return p.inUse.Load()
}

// Shutdown releases pool-owned resources. The underlying *s3.Client has no
// Close method; Shutdown exists so callers have a uniform lifecycle hook if
// a future transport needs one.
func (p *S3ConnectionPool) Shutdown() {}
