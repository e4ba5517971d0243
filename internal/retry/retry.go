// Package retry implements the retry-on-transient wrapper (C8): a small,
// closed classification of transient failures and a bounded retry loop
// usable from both goroutine-blocking and cooperative callers — in Go
// there is no function-coloring distinction, so one implementation serves
// both of the original sync/async variants.
package retry

import (
	"context"
	"strings"
	"time"
)

// Result is the three-tuple contract every retryable operation returns.
type Result struct {
	OK     bool
	Reason string
	Resp   any
}

// transientSubstrings are reason-string fragments that mark a transient
// failure regardless of business code.
var transientSubstrings = []string{
	"no-preferred-flow",
	"timeout",
}

// transientBusinessCodes are inline business error codes known to be
// transient (server momentarily refusing a well-formed request).
var transientBusinessCodes = []string{
	"1004",
	"26104",
	"2691",
	"2699",
}

// IsTransient classifies a reason string using the closed lexicon above:
// substrings "no-preferred-flow"/"timeout", or a "error code: N" reason
// carrying one of the known transient business codes.
func IsTransient(reason string) bool {
	r := strings.ToLower(reason)
	for _, s := range transientSubstrings {
		if strings.Contains(r, s) {
			return true
		}
	}
	for _, code := range transientBusinessCodes {
		if strings.Contains(r, "error code: "+code) || strings.Contains(r, "errorcode:"+code) {
			return true
		}
	}
	return false
}

// Func is any operation that can be retried: it returns the same
// three-tuple contract used across the core.
type Func func(ctx context.Context) Result

// Options configures the retry loop.
type Options struct {
	Interval time.Duration // pause between retries; default 600ms if zero
	Timeout  time.Duration // wall-clock cap; zero means no cap
}

// Call runs fn, retrying on transient failures until a non-transient
// result (success or otherwise) is returned, ctx is done, or Timeout
// elapses. A non-transient failure or success returns immediately.
func Call(ctx context.Context, fn Func, opts Options) Result {
	interval := opts.Interval
	if interval <= 0 {
		interval = 600 * time.Millisecond
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	attempt := 0
	for {
		attempt++
		res := fn(ctx)
		if !IsTransient(res.Reason) {
			return res
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return Result{Reason: "retry-timeout"}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Reason: "retry-timeout"}
		case <-timer.C:
		}
	}
}

// ProbeStatus is the readiness classification AutoRunner derives from a
// raw probe reason.
type ProbeStatus int

const (
	Ready ProbeStatus = iota
	BusinessRefused
	GameNotReady
	ProbeTimeout
)

func (s ProbeStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case BusinessRefused:
		return "business_refused"
	case GameNotReady:
		return "game_not_ready"
	case ProbeTimeout:
		return "probe_timeout"
	default:
		return "unknown"
	}
}

var gameNotReadySubstrings = []string{
	"not logged in",
	"no game",
	"disconnected",
	"no-active-flow",
	"no-master-loop",
}

// ClassifyProbeReason maps a raw probe failure reason to a readiness
// status. An empty reason (probe succeeded) classifies as Ready.
// BusinessRefused is treated as Ready for readiness purposes: the probe
// round-tripped, so the flow is alive, the server just rejected the
// specific request.
func ClassifyProbeReason(reason string) ProbeStatus {
	if reason == "" || reason == "ok" {
		return Ready
	}
	r := strings.ToLower(reason)
	if strings.Contains(r, "timeout") || strings.Contains(r, "timed out") {
		return ProbeTimeout
	}
	for _, s := range gameNotReadySubstrings {
		if strings.Contains(r, s) {
			return GameNotReady
		}
	}
	if strings.Contains(r, "error code:") {
		return BusinessRefused
	}
	return GameNotReady
}
