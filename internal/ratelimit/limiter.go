// Package ratelimit enforces sliding-window request limits keyed by caller
// identity. Backends share the Limiter interface so the redirect policy is
// the same whether state lives in process or in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Decision is the outcome of a single window check.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter checks and records one request against a sliding window.
// A rejected request is not recorded.
type Limiter interface {
	Check(ctx context.Context, key string, window time.Duration, limit int) (Decision, error)
}

// Rule is one window enforced under a base key.
type Rule struct {
	Suffix  string        `yaml:"suffix" mapstructure:"suffix"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
	Max     int           `yaml:"max" mapstructure:"max"`
	Message string        `yaml:"message" mapstructure:"message"`
}

// Validate reports whether r can be enforced.
func (r Rule) Validate() error {
	if r.Suffix == "" {
		return eris.New("ratelimit: rule suffix is required")
	}
	if r.Window <= 0 {
		return eris.Errorf("ratelimit: rule %s: window must be > 0", r.Suffix)
	}
	if r.Max <= 0 {
		return eris.Errorf("ratelimit: rule %s: max must be > 0", r.Suffix)
	}
	return nil
}

// LimitError is returned when a rule rejects a request. Message is safe to
// show to the caller.
type LimitError struct {
	Key        string
	Message    string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s", e.Key, e.Message)
}

// CheckMany applies rules under baseKey in order and stops at the first
// rejection, returning a *LimitError. Rules checked before the rejecting one
// keep their recorded request.
func CheckMany(ctx context.Context, l Limiter, baseKey string, rules []Rule) error {
	for _, r := range rules {
		key := baseKey + ":" + r.Suffix
		d, err := l.Check(ctx, key, r.Window, r.Max)
		if err != nil {
			return eris.Wrapf(err, "ratelimit: check %s", key)
		}
		if !d.Allowed {
			msg := r.Message
			if msg == "" {
				msg = "too many requests"
			}
			return &LimitError{Key: key, Message: msg, RetryAfter: d.RetryAfter}
		}
	}
	return nil
}
