// Package retry implements backoff for transient failures of outbound
// calls. Transient errors (rate limits, 5xx, connection resets) are
// retried with exponential backoff and bounded jitter; permanent errors
// (other 4xx, validation failures) fail immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Classification of a failed call.
type Classification int

const (
	Transient Classification = iota
	Permanent
)

// Classifier maps an error to a classification.
type Classifier func(error) Classification

// Policy holds the retry knobs. The zero value is not usable; use
// DefaultPolicy or construct explicitly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep and jitter are injection points for tests.
	sleep  func(time.Duration)
	jitter func(time.Duration) time.Duration
}

// DefaultPolicy matches the service defaults: 3 attempts, 1s base, 60s cap.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// HTTPStatusError carries a status code through the retry classifier.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ClassifyHTTP treats 429 and 5xx as transient and all other 4xx as
// permanent. Errors without a status code fall back to ClassifyDefault.
func ClassifyHTTP(err error) Classification {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		switch {
		case code == 429:
			return Transient
		case code >= 500:
			return Transient
		case code >= 400:
			return Permanent
		}
	}
	return ClassifyDefault(err)
}

var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"rate limit",
	"throttl",
	"overloaded",
	"too many requests",
}

// ClassifyDefault classifies by error type and message patterns.
// Network-level failures retry; everything unrecognized fails fast.
func ClassifyDefault(err error) Classification {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return Transient
		}
	}
	return Permanent
}

// Delay computes the pause before the given 1-based attempt's retry:
// min(maxDelay, baseDelay * 2^(attempt-1)) plus jitter bounded at a
// quarter of the backoff. Because the jitter bound is below the 2x
// growth factor, the delay sequence is non-decreasing.
func (p *Policy) Delay(attempt int) time.Duration {
	backoff := p.BaseDelay << uint(attempt-1)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	d := backoff + p.jitterFor(backoff/4)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Execute runs fn, retrying transient failures up to MaxAttempts total
// calls. op names the call in log output. Context cancellation stops
// the retry loop between attempts.
func (p *Policy) Execute(ctx context.Context, op string, fn func() error, classify Classifier) error {
	if classify == nil {
		classify = ClassifyDefault
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if classify(lastErr) == Permanent {
			log.Printf("%s: permanent error, not retrying: %v", op, lastErr)
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.Delay(attempt)
		log.Printf("%s: transient error (attempt %d/%d), retrying in %s: %v",
			op, attempt, p.MaxAttempts, delay, lastErr)
		p.doSleep(delay)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, p.MaxAttempts, lastErr)
}

func (p *Policy) jitterFor(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if p.jitter != nil {
		return p.jitter(max)
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func (p *Policy) doSleep(d time.Duration) {
	if p.sleep != nil {
		p.sleep(d)
		return
	}
	time.Sleep(d)
}
