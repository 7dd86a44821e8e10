package repository

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/treeverse/snapvault/pkg/block"
	"golang.org/x/time/rate"
)

// throttledReader paces reads against a byte-rate limiter and reports time
// spent waiting. Reads larger than the limiter burst are reserved in slices
// so a big buffer cannot starve the reservation.
type throttledReader struct {
	ctx        context.Context
	r          io.Reader
	limiter    *rate.Limiter
	onThrottle func(time.Duration)
}

// newThrottledReader wraps r; a nil limiter means no pacing and r is
// returned as is.
func newThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter, onThrottle func(time.Duration)) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, limiter: limiter, onThrottle: onThrottle}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.waitN(n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

func (t *throttledReader) waitN(n int) error {
	start := time.Now()
	for n > 0 {
		chunk := n
		if burst := t.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	if waited := time.Since(start); waited > 0 && t.onThrottle != nil {
		t.onThrottle(waited)
	}
	return nil
}

// abortReader fails the stream as soon as the shard status is flagged
// aborted, so a large upload stops within one read.
type abortReader struct {
	r      io.Reader
	status *ShardSnapshotStatus
}

func newAbortReader(r io.Reader, status *ShardSnapshotStatus) io.Reader {
	return &abortReader{r: r, status: status}
}

func (a *abortReader) Read(p []byte) (int, error) {
	if a.status.IsAborted() {
		return 0, ErrSnapshotAborted
	}
	return a.r.Read(p)
}

// partReader concatenates the data blobs of one stored file, opening part
// i+1 only once part i is exhausted.
type partReader struct {
	ctx       context.Context
	container block.Container
	info      FileInfo
	next      int64
	cur       io.ReadCloser
}

func newPartReader(ctx context.Context, container block.Container, info FileInfo) io.ReadCloser {
	return &partReader{ctx: ctx, container: container, info: info}
}

func (p *partReader) Read(b []byte) (int, error) {
	for {
		if p.cur == nil {
			if p.next >= p.info.NumParts() {
				return 0, io.EOF
			}
			r, err := p.container.Get(p.ctx, p.info.PartName(p.next))
			if err != nil {
				return 0, fmt.Errorf("open part %d of %s: %w", p.next, p.info.PhysicalName, err)
			}
			p.cur = r
			p.next++
		}
		n, err := p.cur.Read(b)
		if err == io.EOF {
			_ = p.cur.Close()
			p.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (p *partReader) Close() error {
	if p.cur == nil {
		return nil
	}
	err := p.cur.Close()
	p.cur = nil
	return err
}
