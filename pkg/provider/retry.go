package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
)

const (
	// DefaultMaxAttempts is the attempt cap including the initial call.
	DefaultMaxAttempts = 3

	// identicalErrorLimit breaks the retry loop when the same classified
	// error repeats this many times consecutively, independent of the
	// attempt cap.
	identicalErrorLimit = 3
)

// RetryState tracks attempt count and identical-error repetition for one
// in-flight call loop. It is owned exclusively by that loop and dies with
// it; the zero value is not usable, construct with NewRetryState.
type RetryState struct {
	attempts            int
	lastFingerprint     uint64
	identicalErrorCount int
	maxAttempts         int
}

// NewRetryState creates a RetryState with the given attempt cap.
// A cap of zero or less falls back to DefaultMaxAttempts.
func NewRetryState(maxAttempts int) *RetryState {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryState{maxAttempts: maxAttempts}
}

// RecordFailure registers a failed attempt and updates the identical-error
// counter. Consecutive failures with the same fingerprint increment the
// counter; a different error resets it to one.
func (s *RetryState) RecordFailure(err *api.Error) {
	s.attempts++
	fp := fingerprint(err)
	if fp == s.lastFingerprint && s.identicalErrorCount > 0 {
		s.identicalErrorCount++
	} else {
		s.identicalErrorCount = 1
	}
	s.lastFingerprint = fp
}

// Terminal reports whether the loop must stop: the attempt cap is reached
// or the identical-error breaker has fired.
func (s *RetryState) Terminal() bool {
	return s.attempts >= s.maxAttempts || s.identicalErrorCount >= identicalErrorLimit
}

// Attempts returns the number of failed attempts recorded so far.
func (s *RetryState) Attempts() int {
	return s.attempts
}

// ShouldRetry records the failure and reports whether another attempt is
// permitted: the error class must be transient and the state non-terminal.
func (s *RetryState) ShouldRetry(err *api.Error) bool {
	s.RecordFailure(err)
	if !err.Retryable() {
		return false
	}
	return !s.Terminal()
}

// fingerprint hashes the stable identity of a classified error so
// consecutive identical failures can be detected.
func fingerprint(err *api.Error) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%s", err.Type, err.HTTPStatus, err.Code, err.Message)
	return h.Sum64()
}

// Backoff computes retry delays: min(base << attempt, cap) plus uniform
// jitter in [0, base).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the production retry curve: 0.5s base, 4s cap.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Cap: 4 * time.Second}
}

// Delay returns the sleep duration before the given retry. attempt counts
// failures so far, starting at 1 after the first failed call.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := b.Cap
	if max <= 0 {
		max = 4 * time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			d = max
			break
		}
		d *= 2
	}
	if d > max {
		d = max
	}

	return d + time.Duration(rand.Int64N(int64(base)))
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
