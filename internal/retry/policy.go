// Package retry models bounded retries against external services as an
// explicit policy object instead of ad-hoc loop counters. A policy carries an
// ordered list of candidate identifiers (model names, endpoints) and rotates
// through them as attempts fail.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule. The zero value is not usable;
// construct with NewPolicy.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Candidates  []string
}

// NewPolicy builds a policy with at least one attempt and one candidate.
func NewPolicy(maxAttempts int, backoff time.Duration, candidates []string) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if len(candidates) == 0 {
		candidates = []string{""}
	}
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff, Candidates: candidates}
}

// Candidate returns the candidate for a given zero-based attempt number,
// wrapping around when attempts outnumber candidates.
func (p Policy) Candidate(attempt int) string {
	if attempt < 0 {
		attempt = 0
	}
	return p.Candidates[attempt%len(p.Candidates)]
}

// Do runs fn up to MaxAttempts times, passing the attempt number and the
// rotated candidate, sleeping Backoff between attempts. It returns nil on the
// first success, the last error once attempts are exhausted, or ctx.Err() if
// the context ends during a backoff wait.
func (p Policy) Do(ctx context.Context, fn func(attempt int, candidate string) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := fn(attempt, p.Candidate(attempt)); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.MaxAttempts-1 || p.Backoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff):
		}
	}
	return lastErr
}
