// Package exohome implements the Sampo Exohome vendor cloud protocol:
// credential login over HTTP, and an ad-hoc RPC-over-websocket session
// for device enumeration, property fetches and field mutations.
//
// # Protocol
//
// One HTTP call authenticates (`POST /session`) and yields a bearer
// token valid for ~30 days. Everything else runs over a single
// websocket stream to the gateway (`/phone`): outbound frames carry
// `{id, request, device?, data?}`, inbound frames `{status, response,
// data?}`. The gateway multiplexes unsolicited pushes and replies on
// the same stream and does not echo correlation ids, so responses are
// matched by request name with a bounded receive loop (see Channel).
//
// # Layering
//
//	Client        - session state, token refresh, catalog assembly
//	Channel       - one websocket, serialized request/response calls
//	DeviceRecord  - cached per-appliance property/status bundle
//
// The polling coordinator (internal/coordinator) owns the refresh
// cadence and the authoritative catalog map; this package is cadence-
// and storage-agnostic apart from the optional CredentialStore hook.
//
// # Error taxonomy
//
//   - ErrInvalidCredentials - bad or expired credentials; never retried
//     automatically, must reach the operator
//   - ErrRequestFailed - transport fault; retried on the next cycle
//   - ErrChannelClosed - the stream died; the owner reopens it
//   - ErrProtocol - undecodable or mismatched frame; single-call failure
package exohome
