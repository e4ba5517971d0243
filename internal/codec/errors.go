package codec

import "errors"

// Sentinel errors for the Liqi frame codec. Callers should use errors.Is
// against these rather than comparing strings.
var (
	// ErrMalformedFrame is returned when a frame cannot be parsed: truncation,
	// an unknown kind byte, or a non-parseable envelope.
	ErrMalformedFrame = errors.New("codec: malformed frame")

	// ErrBuildFailure is returned when a view cannot be re-serialized.
	ErrBuildFailure = errors.New("codec: build failure")

	// ErrUnknownMethod marks a descriptor lookup miss; parsing still
	// succeeds with an opaque body.
	ErrUnknownMethod = errors.New("codec: unknown method")
)
