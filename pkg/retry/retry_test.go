package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		failures      []error
		wantCalls     int
		wantErr       error
		wantExhausted bool
	}{
		{
			name:      "succeeds first time",
			cfg:       fastConfig(3),
			wantCalls: 1,
		},
		{
			name:      "succeeds after retries",
			cfg:       fastConfig(3),
			failures:  []error{errTransient, errTransient},
			wantCalls: 3,
		},
		{
			name:          "exhausts attempts",
			cfg:           fastConfig(2),
			failures:      []error{errTransient, errTransient, errTransient},
			wantCalls:     2,
			wantErr:       errTransient,
			wantExhausted: true,
		},
		{
			name: "stops on non-retryable error",
			cfg: func() Config {
				c := fastConfig(5)
				c.RetryableErrors = []error{errTransient}
				return c
			}(),
			failures:  []error{errFatal},
			wantCalls: 1,
			wantErr:   errFatal,
		},
		{
			name: "RetryIf overrides RetryableErrors",
			cfg: func() Config {
				c := fastConfig(5)
				c.RetryableErrors = []error{errFatal}
				c.RetryIf = func(err error) bool { return errors.Is(err, errTransient) }
				return c
			}(),
			failures:  []error{errTransient, errFatal},
			wantCalls: 2,
			wantErr:   errFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.cfg, func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrExhausted); got != tt.wantExhausted {
				t.Errorf("errors.Is(ErrExhausted) = %v, want %v", got, tt.wantExhausted)
			}
		})
	}
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("DoWithResult = %q, %v", got, err)
	}
}

func TestAddJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := addJitter(base, 0.5)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("addJitter = %v, outside [50ms, 150ms]", d)
		}
	}
	if d := addJitter(base, 0); d != base {
		t.Errorf("addJitter with no fraction = %v, want %v", d, base)
	}
}
