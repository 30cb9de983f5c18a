// Package ratelimiter throttles transfers with a token bucket.
//
// One token is one byte. Copiers and targets wrap their source readers with
// Reader so that a configured bytes-per-second limit is honoured across all
// concurrent transfers sharing the same limiter.
package ratelimiter

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// unlimited is used in place of rate.Inf, which does not play well with WaitN.
const unlimited = 1 << 40

// RateLimiter is a token bucket over golang.org/x/time/rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter refilling at perSecond tokens per second with room for
// burst tokens.
//
// A zero rate disables limiting. A burst smaller than the rate is raised to the
// rate so that WaitN for a one-second chunk can always succeed.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		perSecond = unlimited
		burst = unlimited
	}
	if burst < perSecond {
		burst = perSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || uint(r.limiter.Limit()) >= unlimited
}

// Allow consumes one token if available.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN consumes n tokens if all of them are available.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// Wait blocks until one token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// WaitN blocks until n tokens are available or ctx is done.
//
// Requests larger than the burst are split, so callers may pass any n.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	burst := r.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := r.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetLimit updates the refill rate. Zero disables limiting.
//
// The burst follows the rate when it was tied to the old one.
func (r *RateLimiter) SetLimit(perSecond uint) {
	if perSecond == 0 {
		perSecond = unlimited
	}

	oldRate := uint(r.limiter.Limit())
	oldBurst := uint(r.limiter.Burst())
	r.limiter.SetLimit(rate.Limit(perSecond))

	if oldBurst <= oldRate || oldBurst < perSecond {
		r.limiter.SetBurst(int(perSecond))
	}
}

// SetBurst updates the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Tokens returns the tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Reader wraps src so that every Read waits for as many tokens as bytes read.
//
// A nil or unlimited limiter returns src unchanged.
func (r *RateLimiter) Reader(ctx context.Context, src io.Reader) io.Reader {
	if r.Unlimited() {
		return src
	}
	return &throttledReader{ctx: ctx, src: src, limiter: r}
}

type throttledReader struct {
	ctx     context.Context
	src     io.Reader
	limiter *RateLimiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
