package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry is a single structured record written to the API log file.
// Each field uses snake_case JSON keys for easy grep/jq consumption.
type LogEntry struct {
	Timestamp     string `json:"ts"`
	Event         string `json:"event"` // "request", "retry", "rate_limit_wait", "circuit_opened", "circuit_closed", "circuit_rejected"
	Service       string `json:"service,omitempty"`
	Label         string `json:"label,omitempty"`           // human-readable API endpoint name
	StatusCode    int    `json:"status_code,omitempty"`     // HTTP status (0 = network error)
	DurationMS    int64  `json:"duration_ms,omitempty"`     // round-trip time
	Attempt       int    `json:"attempt,omitempty"`         // retry attempt (0 = first try)
	RateLimitedMS int64  `json:"rate_limited_ms,omitempty"` // ms spent waiting for rate limiter
	CircuitState  string `json:"circuit_state,omitempty"`   // closed / open / half-open
	Error         string `json:"error,omitempty"`
}

// Log writes structured JSON-line entries to a dedicated log file.
// A nil *Log is valid and disables logging. All methods are safe for
// concurrent use.
type Log struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *os.File
}

// OpenLog opens (or creates) the API log file at logPath, creating the
// parent directory with mode 0700 if needed. A failure to open the file is
// returned to the caller, who may choose to continue with logging disabled;
// a logging failure must never abort a transfer.
func OpenLog(logPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("api log: mkdir %s: %w", filepath.Dir(logPath), err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("api log: open %s: %w", logPath, err)
	}
	return &Log{f: f, enc: json.NewEncoder(f)}, nil
}

// Close closes the underlying file. Safe on a nil Log.
func (l *Log) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}

// write appends one entry. Encoding failures are silently ignored.
func (l *Log) write(e LogEntry) {
	if l == nil {
		return
	}
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(e)
}

// request records a completed HTTP request (success or API-level error).
func (l *Log) request(service, label string, statusCode int, duration time.Duration, attempt int, circState string, reqErr error) {
	e := LogEntry{
		Event:        "request",
		Service:      service,
		Label:        label,
		StatusCode:   statusCode,
		DurationMS:   duration.Milliseconds(),
		Attempt:      attempt,
		CircuitState: circState,
	}
	if reqErr != nil {
		e.Error = reqErr.Error()
	}
	if attempt > 0 {
		e.Event = "retry"
	}
	l.write(e)
}

// rateLimitWait records that a request was delayed by the rate limiter.
func (l *Log) rateLimitWait(service, label string, waited time.Duration) {
	l.write(LogEntry{
		Event:         "rate_limit_wait",
		Service:       service,
		Label:         label,
		RateLimitedMS: waited.Milliseconds(),
	})
}

// circuitChange records a circuit breaker state transition.
func (l *Log) circuitChange(event, service, label, fromState, toState string) {
	l.write(LogEntry{
		Event:        event,
		Service:      service,
		Label:        label,
		CircuitState: toState,
		Error:        fmt.Sprintf("state transition: %s -> %s", fromState, toState),
	})
}

// circuitRejected records a request rejected because the circuit is open.
func (l *Log) circuitRejected(service, label string) {
	l.write(LogEntry{
		Event:        "circuit_rejected",
		Service:      service,
		Label:        label,
		CircuitState: "open",
		Error:        ErrCircuitOpen.Error(),
	})
}
