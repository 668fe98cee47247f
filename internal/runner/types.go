package runner

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrBadConfig = errors.New("invalid runner config")

type Config struct {
	Host       string        `json:"host"`
	NumUsers   int           `json:"num_users"`
	SpawnRate  float64       `json:"spawn_rate"` // users per second, 0 spawns all at once
	RunTime    time.Duration `json:"run_time"`
	TimeoutSec int           `json:"timeout_sec"`
	OutPrefix  string        `json:"out_prefix,omitempty"`

	// Seed fixes the per-user random sources; 0 seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
}

func (c Config) Validate() error {
	if err := validateHost(c.Host); err != nil {
		return err
	}
	switch {
	case c.NumUsers <= 0:
		return fmt.Errorf("%w: users must be positive, got %d", ErrBadConfig, c.NumUsers)
	case c.SpawnRate < 0:
		return fmt.Errorf("%w: spawn rate must not be negative, got %g", ErrBadConfig, c.SpawnRate)
	case c.RunTime <= 0:
		return fmt.Errorf("%w: run time must be positive, got %s", ErrBadConfig, c.RunTime)
	case c.TimeoutSec <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %d", ErrBadConfig, c.TimeoutSec)
	}
	return nil
}

func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrBadConfig)
	}
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("%w: host %q: %v", ErrBadConfig, host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: host %q needs an http or https scheme", ErrBadConfig, host)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host %q has no address", ErrBadConfig, host)
	}
	return nil
}

// RequestResult is one recorded request, kept for CSV export.
type RequestResult struct {
	TimeStamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Success   bool          `json:"success"`
	Bytes     int64         `json:"bytes"`
	UserID    string        `json:"user_id"`
	Err       string        `json:"error,omitempty"`
}

// Snapshot is a cheap copy of the live counters.
type Snapshot struct {
	Requests    uint64
	Fail        uint64
	ActiveUsers int64
	Inflight    int64
	Elapsed     time.Duration
}
