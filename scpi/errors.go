package scpi

import "errors"

var (
	// ErrNotConnected indicates that an operation requiring an established
	// connection was invoked on a closed session.
	ErrNotConnected = errors.New("not connected")

	// ErrConnRefused indicates that the remote device refused the TCP
	// connection. A refused connection is terminal: the server is not
	// listening and retrying is pointless.
	ErrConnRefused = errors.New("connection refused by device")
)

var (
	// ErrNoData indicates that the device answered a fetch with a
	// "no data" or "error" marker. This is a normal, expected outcome of
	// polling an empty buffer, not a transport failure.
	ErrNoData = errors.New("no data available")

	// ErrDecode indicates a malformed numeric payload: a bad binary length
	// field, a truncated float block, or a value sequence shorter than the
	// configured dimensions. Decode failures are never coerced to defaults.
	ErrDecode = errors.New("payload decode error")
)

var (
	// ErrVersionNotSupported indicates that a version-gated feature was
	// invoked against a device whose negotiated protocol version does not
	// support it. No wire traffic is sent in this case.
	ErrVersionNotSupported = errors.New("protocol version does not support this feature")

	// ErrInvalidArgument indicates an invalid enum value or an otherwise
	// unusable argument. Reported before any wire traffic is sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrElogNotConfigured indicates that an ELOG fetch was attempted
	// before channels and calculations were configured, so the row width
	// is unknown.
	ErrElogNotConfigured = errors.New("elog channels and calculations not configured")

	// ErrAccumulateTimeout indicates that an accumulated fetch did not
	// reach its stop condition within the given timeout. Rows gathered up
	// to that point are returned alongside this error.
	ErrAccumulateTimeout = errors.New("accumulated fetch timed out")
)
