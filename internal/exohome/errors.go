package exohome

import "errors"

// Sentinel errors for vendor cloud operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidCredentials indicates the account email/password or bearer
	// token was rejected by the vendor cloud. Not retried automatically;
	// callers must surface this so the operator can re-enter credentials.
	ErrInvalidCredentials = errors.New("exohome: invalid credentials")

	// ErrRequestFailed indicates a transport-level fault: a failed HTTP
	// exchange, a websocket send/receive error, or a malformed response.
	// Safe to retry on the next polling cycle.
	ErrRequestFailed = errors.New("exohome: request failed")

	// ErrChannelClosed indicates the websocket stream closed mid-exchange.
	// The channel is unusable afterwards; the caller decides whether to
	// reopen. No automatic reconnect happens inside the channel.
	ErrChannelClosed = errors.New("exohome: channel closed")

	// ErrNotConnected is returned when a call is attempted on a channel
	// that was never opened or has been closed.
	ErrNotConnected = errors.New("exohome: channel not connected")

	// ErrProtocol indicates the gateway answered with something that
	// cannot be interpreted (undecodable frame, unexpected payload shape).
	// Treated as a single-call failure, not a session failure.
	ErrProtocol = errors.New("exohome: protocol error")
)
