package exohome

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channel defaults.
const (
	// defaultCallTimeout bounds one request/response exchange. The
	// gateway gives no delivery guarantee, so every call must carry a
	// deadline.
	defaultCallTimeout = 10 * time.Second

	// defaultRecvAttempts is the frames read per call before giving up
	// on finding a matching response.
	defaultRecvAttempts = 2

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 10 * time.Second

	// closeGracePeriod is how long Close waits for the close frame to
	// be written before dropping the connection.
	closeGracePeriod = 3 * time.Second
)

// Channel implements request/response correlation over one full-duplex
// websocket stream to the vendor gateway.
//
// The gateway multiplexes replies and unsolicited pushes on the same
// stream without echoing correlation ids, so a response is matched to a
// request purely by name: a frame answers Call(request) iff its status
// field is present and its response name equals the request name. Any
// other frame is discarded, bounded by the receive-attempt limit.
//
// Concurrency: a Channel serializes calls internally; the correlation
// counter and the socket read cursor are not safe for interleaved
// exchanges, so one call runs at a time.
type Channel struct {
	conn *websocket.Conn

	// nextID is the per-connection correlation counter, starting at 1.
	// Used for send-order bookkeeping only, never for matching.
	nextID int64

	recvAttempts int
	callTimeout  time.Duration

	// callMu serializes Call: one in-flight exchange per channel.
	callMu sync.Mutex

	closed   bool
	closeMu  sync.Mutex
	stopOnce sync.Once

	logger Logger
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// CallTimeout bounds a single request/response exchange.
	// Defaults to 10s.
	CallTimeout time.Duration

	// RecvAttempts is the number of frames read per call before the
	// call returns an empty frame. Defaults to 2.
	RecvAttempts int

	// Dialer overrides the websocket dialer (tests).
	Dialer *websocket.Dialer

	// Logger is an optional structured logger.
	Logger Logger
}

// DialChannel opens a websocket connection to the gateway endpoint and
// returns a connected channel.
//
// Parameters:
//   - ctx: Bounds the dial (combine with a setup timeout)
//   - url: Full gateway endpoint, e.g. "wss://.../api:1/phone"
//
// Returns:
//   - *Channel: Connected channel, correlation counter at 1
//   - error: ErrRequestFailed (wrapped) if the dial fails
func DialChannel(ctx context.Context, url string, opts ChannelOptions) (*Channel, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dialing gateway (http %d): %w", ErrRequestFailed, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dialing gateway: %w", ErrRequestFailed, err)
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	recvAttempts := opts.RecvAttempts
	if recvAttempts <= 0 {
		recvAttempts = defaultRecvAttempts
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Channel{
		conn:         conn,
		nextID:       1,
		recvAttempts: recvAttempts,
		callTimeout:  callTimeout,
		logger:       logger,
	}, nil
}

// Call sends one request frame and waits for its response.
//
// The next correlation id is assigned, the frame is written, and then
// up to RecvAttempts frames are read. A frame is accepted iff its
// status is present and its response name matches the request; anything
// else is discarded (not queued). When the attempt bound is exhausted
// without a match, an empty frame is returned rather than an error, so
// a single stray push never blocks the caller.
//
// Parameters:
//   - ctx: Per-call cancellation; the call deadline is the earlier of
//     ctx's deadline and the configured call timeout
//   - request: Request name (RequestLogin, RequestGet, ...)
//   - device: Target device id, empty for account-level requests
//   - data: Request payload, nil when the request carries none
//
// Returns:
//   - ResponseFrame: The matched response, or the zero frame on no match
//   - error: ErrNotConnected, ErrChannelClosed if the stream closed
//     mid-exchange, ErrRequestFailed on transport faults
func (c *Channel) Call(ctx context.Context, request, device string, data map[string]any) (ResponseFrame, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.Closed() {
		return ResponseFrame{}, ErrNotConnected
	}

	deadline := time.Now().Add(c.callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	frame := RequestFrame{
		ID:      c.nextID,
		Request: request,
		Device:  device,
		Data:    data,
	}
	c.nextID++

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return ResponseFrame{}, fmt.Errorf("%w: setting write deadline: %w", ErrRequestFailed, err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return ResponseFrame{}, c.classify("sending "+request, err)
	}

	for attempt := 0; attempt < c.recvAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ResponseFrame{}, fmt.Errorf("%w: %s: %w", ErrRequestFailed, request, err)
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return ResponseFrame{}, fmt.Errorf("%w: setting read deadline: %w", ErrRequestFailed, err)
		}

		var resp ResponseFrame
		if err := c.conn.ReadJSON(&resp); err != nil {
			return ResponseFrame{}, c.classify("awaiting "+request, err)
		}

		if resp.Status != "" && resp.Response == request {
			return resp, nil
		}

		c.logger.Debug("discarding unmatched frame",
			"request", request,
			"got_response", resp.Response,
			"attempt", attempt+1,
		)
	}

	// No matching frame within the attempt bound. The caller sees an
	// empty result rather than blocking forever.
	return ResponseFrame{}, nil
}

// classify maps a websocket I/O error to the package error taxonomy.
//
// Every fault retires the channel: gorilla/websocket read and write
// failures are permanent, so after a single failed ReadJSON (a read
// deadline expiring included) the connection can never carry another
// exchange. Closing here releases the socket and lets the owner redial
// on the next cycle instead of re-failing on a poisoned connection.
func (c *Channel) classify(op string, err error) error {
	_ = c.Close() //nolint:errcheck // Best effort, the channel is already broken
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) ||
		websocket.IsUnexpectedCloseError(err) ||
		errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %s: %w", ErrChannelClosed, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRequestFailed, op, err)
}

// markClosed flags the channel as unusable after a fatal I/O error.
func (c *Channel) markClosed() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
}

// Closed reports whether the channel can no longer carry calls.
func (c *Channel) Closed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// Close shuts the underlying stream down. Best effort and idempotent:
// calling Close on an already-closed channel is a no-op.
func (c *Channel) Close() error {
	var err error
	c.stopOnce.Do(func() {
		c.markClosed()

		// Polite close frame first; ignore failure, the connection is
		// going away either way.
		deadline := time.Now().Add(closeGracePeriod)
		_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // Best effort
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		err = c.conn.Close()
	})
	return err
}

// Logger is the minimal logging surface the exohome package needs.
// Satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// nopLogger discards all log output.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
