// Package api provides the shared outbound HTTP machinery used by both
// remote-service clients: a token-bucket rate limiter, a three-state
// circuit breaker, a retrying request gateway, and a structured JSON-lines
// request log. Each service owns its own Gateway handle; nothing in this
// package is ambient state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Options tunes a Gateway. Zero values select the defaults noted per field.
type Options struct {
	// Service names the remote API in log entries, e.g. "yadisk".
	Service string
	// Timeout is the per-request HTTP timeout. Default 30s. Pass a negative
	// value for no client timeout (streaming transfers rely on the request
	// context instead).
	Timeout time.Duration
	// RatePerSec and Burst configure the courtesy rate limit.
	// Defaults: 5 req/s, burst 10.
	RatePerSec float64
	Burst      int
	// BreakerThreshold consecutive API-level failures open the circuit for
	// BreakerReset. Defaults: 5 failures, 60s.
	BreakerThreshold int
	BreakerReset     time.Duration
	// MaxRetries bounds in-gateway retries of 429/5xx responses. Default 4.
	MaxRetries int
	// Log receives structured entries for every attempt. Nil disables.
	Log *Log
}

// Gateway is the single path for every outbound call to one remote API.
// It enforces, in order: rate limiting, circuit breaking, HTTP execution
// with context cancellation, retry on 429/5xx with exponential backoff
// (Retry-After respected), and structured logging of every attempt.
type Gateway struct {
	service    string
	client     *http.Client
	limiter    *rateLimiter
	breaker    *circuitBreaker
	maxRetries int
	log        *Log
}

// NewGateway builds a Gateway from opts, applying defaults for zero fields.
func NewGateway(opts Options) *Gateway {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 5.0
	}
	if opts.Burst == 0 {
		opts.Burst = 10
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerReset == 0 {
		opts.BreakerReset = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 4
	}
	return &Gateway{
		service:    opts.Service,
		client:     &http.Client{Timeout: opts.Timeout},
		limiter:    newRateLimiter(opts.RatePerSec, opts.Burst),
		breaker:    newCircuitBreaker(opts.BreakerThreshold, opts.BreakerReset),
		maxRetries: opts.MaxRetries,
		log:        opts.Log,
	}
}

// Client exposes the underlying HTTP client for calls that must bypass the
// retry loop (streaming request bodies cannot be replayed by makeReq).
func (g *Gateway) Client() *http.Client { return g.client }

// Do executes one logical API call through the gateway.
//
// label is a short human-readable endpoint name used in log entries
// (e.g. "public.resources"). makeReq must build a fresh request per attempt.
// Caller is responsible for closing the returned response body.
func (g *Gateway) Do(ctx context.Context, label string, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := 500 * time.Millisecond

	for attempt := 0; ; attempt++ {
		// Rate limiter — block until a token is available.
		waited, err := g.limiter.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("rate limiter cancelled for %s: %w", label, err)
		}
		// Only log if we actually waited (> 1ms threshold avoids noise).
		if waited > time.Millisecond {
			g.log.rateLimitWait(g.service, label, waited)
		}

		// Circuit breaker — fail fast when the API is known-down.
		cbState, allowed := g.breaker.Allow()
		if !allowed {
			g.log.circuitRejected(g.service, label)
			return nil, fmt.Errorf("%w (label: %s)", ErrCircuitOpen, label)
		}

		req, err := makeReq()
		if err != nil {
			return nil, err
		}
		start := time.Now()
		resp, err := g.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			// Network-level error: log but do NOT trip the circuit breaker.
			// Network hiccups are distinct from the API being overloaded.
			g.log.request(g.service, label, 0, duration, attempt, cbState.String(), err)
			return nil, err
		}

		isAPIError := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !isAPIError {
			// Success (2xx, 3xx, or client-error 4xx — server is healthy).
			prev := g.breaker.RecordSuccess()
			if prev != circuitClosed {
				g.log.circuitChange("circuit_closed", g.service, label, prev.String(), circuitClosed.String())
			}
			g.log.request(g.service, label, resp.StatusCode, duration, attempt, circuitClosed.String(), nil)
			return resp, nil
		}

		// API-level error: trip circuit breaker, log, then retry or give up.
		resp.Body.Close()
		newState := g.breaker.RecordFailure()
		if newState == circuitOpen && cbState != circuitOpen {
			g.log.circuitChange("circuit_opened", g.service, label, cbState.String(), newState.String())
		}
		apiErr := fmt.Errorf("HTTP %s", resp.Status)
		g.log.request(g.service, label, resp.StatusCode, duration, attempt, newState.String(), apiErr)

		if attempt >= g.maxRetries {
			return nil, fmt.Errorf("API %s failed after %d attempts: %w", label, attempt+1, apiErr)
		}

		wait := backoff
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, e := strconv.Atoi(ra); e == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
