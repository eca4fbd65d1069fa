package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(maxAttempts int, delays *[]time.Duration) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		sleep: func(d time.Duration) {
			if delays != nil {
				*delays = append(*delays, d)
			}
		},
		jitter: func(max time.Duration) time.Duration { return max / 2 },
	}
}

func TestTransientErrorExhaustsAllAttempts(t *testing.T) {
	var delays []time.Duration
	p := testPolicy(4, &delays)

	calls := 0
	err := p.Execute(context.Background(), "flaky", func() error {
		calls++
		return errors.New("connection reset by peer")
	}, ClassifyDefault)

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("fn called %d times, want exactly maxAttempts=4", calls)
	}
	if len(delays) != 3 {
		t.Fatalf("slept %d times, want 3", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay sequence decreased: %v then %v", delays[i-1], delays[i])
		}
	}
	for _, d := range delays {
		if d > 60*time.Second {
			t.Errorf("delay %v exceeds maxDelay", d)
		}
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	var delays []time.Duration
	p := testPolicy(5, &delays)

	calls := 0
	wantErr := &HTTPStatusError{StatusCode: 403, Message: "forbidden"}
	err := p.Execute(context.Background(), "auth", func() error {
		calls++
		return wantErr
	}, ClassifyHTTP)

	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the original permanent error", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if len(delays) != 0 {
		t.Errorf("slept %d times, want 0", len(delays))
	}
}

func TestSuccessAfterTransientFailures(t *testing.T) {
	p := testPolicy(5, nil)

	calls := 0
	err := p.Execute(context.Background(), "eventually", func() error {
		calls++
		if calls < 3 {
			return &HTTPStatusError{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	}, ClassifyHTTP)

	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		code int
		want Classification
	}{
		{429, Transient},
		{500, Transient},
		{502, Transient},
		{503, Transient},
		{504, Transient},
		{400, Permanent},
		{401, Permanent},
		{403, Permanent},
		{404, Permanent},
		{422, Permanent},
	}
	for _, tt := range tests {
		got := ClassifyHTTP(&HTTPStatusError{StatusCode: tt.code})
		if got != tt.want {
			t.Errorf("ClassifyHTTP(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestClassifyDefaultMessagePatterns(t *testing.T) {
	tests := []struct {
		err  string
		want Classification
	}{
		{"dial tcp: connection refused", Transient},
		{"request rate limit exceeded", Transient},
		{"model overloaded", Transient},
		{"invalid request payload", Permanent},
	}
	for _, tt := range tests {
		got := ClassifyDefault(errors.New(tt.err))
		if got != tt.want {
			t.Errorf("ClassifyDefault(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDelayBoundedByMax(t *testing.T) {
	p := &Policy{
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
		jitter:    func(max time.Duration) time.Duration { return max },
	}
	for attempt := 1; attempt <= 12; attempt++ {
		if d := p.Delay(attempt); d > p.MaxDelay {
			t.Errorf("Delay(%d) = %v exceeds max %v", attempt, d, p.MaxDelay)
		}
	}
}

func TestContextCancellationStopsRetry(t *testing.T) {
	p := testPolicy(10, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Execute(ctx, "cancelled", func() error {
		calls++
		cancel()
		return errors.New("timeout")
	}, ClassifyDefault)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times after cancel, want 1", calls)
	}
}
