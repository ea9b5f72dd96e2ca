// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience retries transient storage failures and trips a circuit
// breaker when the store keeps failing.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrCircuitOpen is returned without calling the store while the circuit
// is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrInvalidConfig is returned by RetryConfig.Validate.
var ErrInvalidConfig = errors.New("invalid retry config")

// Class tells the policy what to do with an error.
type Class int

const (
	// ClassPermanent errors are returned at once and leave the breaker
	// alone. Domain rejections belong here.
	ClassPermanent Class = iota

	// ClassRetryable errors are retried with backoff and count as
	// breaker failures if retries run out.
	ClassRetryable

	// ClassFailure errors are infrastructure failures that will not go
	// away on retry. They count toward the breaker.
	ClassFailure
)

// Classifier maps an error to a Class.
type Classifier func(err error) Class

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	// MaxAttempts includes the first call. Default: 3
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts" validate:"gte=1"`

	// InitialBackoff is the wait before the first retry. Default: 20ms
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff" validate:"gt=0"`

	// MaxBackoff caps the wait. Default: 1s
	MaxBackoff time.Duration `yaml:"max_backoff" toml:"max_backoff" validate:"gtefield=InitialBackoff"`

	// BackoffFactor multiplies the wait after each retry. Default: 2.0
	BackoffFactor float64 `yaml:"backoff_factor" toml:"backoff_factor" validate:"gte=1"`

	// JitterFactor is the maximum jitter as a fraction of the wait.
	// Default: 0.2
	JitterFactor float64 `yaml:"jitter_factor" toml:"jitter_factor" validate:"gte=0,lte=1"`
}

// DefaultRetryConfig returns defaults sized for local storage transactions.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 || c.InitialBackoff <= 0 ||
		c.MaxBackoff < c.InitialBackoff || c.BackoffFactor < 1.0 ||
		c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Result reports what a call through the policy did.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Policy combines retry and circuit breaking around storage calls.
//
// Thread Safety: Safe for concurrent use.
type Policy struct {
	retry    RetryConfig
	breaker  *CircuitBreaker
	classify Classifier
	onRetry  func(attempt int, err error)
}

// NewPolicy returns a policy. A nil breaker disables circuit breaking.
func NewPolicy(retry RetryConfig, breaker *CircuitBreaker, classify Classifier) *Policy {
	return &Policy{retry: retry, breaker: breaker, classify: classify}
}

// OnRetry registers fn to run before each retry wait.
func (p *Policy) OnRetry(fn func(attempt int, err error)) {
	p.onRetry = fn
}

// Breaker returns the policy's breaker, or nil.
func (p *Policy) Breaker() *CircuitBreaker {
	return p.breaker
}

// Do runs fn under the policy.
//
// Description:
//
//	Retryable errors are retried up to MaxAttempts with exponential
//	backoff and jitter. Every attempt that fails with a retryable or
//	failure-class error is recorded on the breaker; permanent errors are
//	returned immediately and recorded as neither success nor failure. While
//	the breaker is open Do returns ErrCircuitOpen without calling fn.
//
// Inputs:
//
//	ctx - Cancels waiting between attempts.
//	fn - The storage call.
//
// Outputs:
//
//	Result - Attempt statistics.
//	error - nil, the last error from fn, ctx.Err(), or ErrCircuitOpen.
func (p *Policy) Do(ctx context.Context, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}
	finish := func(err error) (Result, error) {
		result.LastError = err
		result.TotalDuration = time.Since(start)
		return result, err
	}

	backoff := p.retry.InitialBackoff
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if p.breaker != nil && !p.breaker.Allow() {
			return finish(ErrCircuitOpen)
		}

		err := fn(ctx, attempt)
		if err == nil {
			if p.breaker != nil {
				p.breaker.RecordSuccess()
			}
			return finish(nil)
		}

		class := p.classify(err)
		if class == ClassPermanent {
			// The store answered; it is healthy.
			if p.breaker != nil {
				p.breaker.RecordSuccess()
			}
			return finish(err)
		}
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		if class != ClassRetryable || attempt == p.retry.MaxAttempts {
			return finish(err)
		}

		if p.onRetry != nil {
			p.onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return finish(ctx.Err())
		case <-time.After(calculateBackoff(backoff, p.retry.JitterFactor)):
		}
		backoff = nextBackoff(backoff, p.retry.BackoffFactor, p.retry.MaxBackoff)
	}

	return finish(result.LastError)
}

// calculateBackoff spreads base over [base*(1-jitter), base*(1+jitter)].
func calculateBackoff(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
