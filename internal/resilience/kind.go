// Package resilience implements the retry, circuit-breaker and
// rate-limiter substrate described in spec §4.2, composed the way §4.2
// requires: rate limiter acquires before the retry timer, breaker check
// is the outermost gate, and retries share the same breaker and limiter.
package resilience

// Kind is the stable failure taxonomy from spec §7. Only Network and
// Throttled are retriable by the generic Retry policy; an adapter marks
// its own transient failures by classifying them as one of those kinds.
type Kind string

const (
	KindConfig         Kind = "config"
	KindAuth           Kind = "auth"
	KindNotFound       Kind = "not-found"
	KindNetwork        Kind = "network"
	KindThrottled      Kind = "throttled"
	KindPermanent      Kind = "permanent"
	KindCorruptManifest Kind = "corrupt-manifest"
	KindDataQuality    Kind = "data-quality"
	KindCancelled      Kind = "cancelled"
	KindInternal       Kind = "internal"
	KindUnknown        Kind = "unknown"
)

// Failure wraps an error with its classification and an optional
// server-supplied retry-after hint (§4.2: "use that value in place of
// computed delay").
type Failure struct {
	Kind       Kind
	Err        error
	RetryAfter *int64 // milliseconds, nil if absent
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Retriable reports whether this failure kind participates in retry.
func (f *Failure) Retriable() bool {
	switch f.Kind {
	case KindNetwork, KindThrottled:
		return true
	default:
		return false
	}
}

// NewFailure builds a classified failure.
func NewFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// AsFailure extracts a *Failure from err, classifying unknown errors as
// KindUnknown so callers can treat any error uniformly.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if as, ok := err.(*Failure); ok {
		return as
	}
	f = &Failure{Kind: KindUnknown, Err: err}
	return f
}
