package exohome

import (
	"encoding/json"
	"fmt"
	"io"
)

// Request names understood by the vendor gateway.
const (
	RequestLogin          = "login"
	RequestProvisionToken = "provision_token"
	RequestGetUserData    = "get_user_data"
	RequestGetMe          = "get_me"
	RequestListDevices    = "lst_device"
	RequestGet            = "get"
	RequestSet            = "set"
)

// StatusOK is the status value of a successful response frame.
const StatusOK = "ok"

// RequestFrame is an outbound websocket frame.
//
// ID is a per-connection correlation counter used for send-order
// bookkeeping only; the gateway does not reliably echo it back, so
// responses are matched by name instead (see Channel.Call).
type RequestFrame struct {
	ID      int64          `json:"id"`
	Request string         `json:"request"`
	Device  string         `json:"device,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ResponseFrame is an inbound websocket frame.
//
// The gateway multiplexes request responses and unsolicited pushes on
// the same stream. A frame is the answer to a request iff Status is
// present and Response equals the request name that was sent.
type ResponseFrame struct {
	Status   string          `json:"status"`
	Response string          `json:"response"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the frame carries a successful status.
func (f *ResponseFrame) OK() bool {
	return f.Status == StatusOK
}

// Empty reports whether the frame is the zero frame, returned by
// Channel.Call when no matching response arrived within the attempt
// bound.
func (f *ResponseFrame) Empty() bool {
	return f.Status == "" && f.Response == ""
}

// DecodeData unmarshals the frame's data payload into v.
//
// Returns ErrProtocol (wrapped) if the payload is absent or cannot be
// decoded into v.
func (f *ResponseFrame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: response %q has no data payload", ErrProtocol, f.Response)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: decoding %q data: %w", ErrProtocol, f.Response, err)
	}
	return nil
}

// decodeJSONBody decodes a JSON stream into v, mapping failures to the
// package error taxonomy.
func decodeJSONBody(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding response body: %w", ErrProtocol, err)
	}
	return nil
}
