package exohome

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default vendor cloud endpoints.
const (
	DefaultAPIBase = "https://sampo.apps.exosite.io/api:1"
	DefaultWSSBase = "wss://sampo.apps.exosite.io/api:1"
)

// gatewayPath is the websocket RPC endpoint under the WSS base.
const gatewayPath = "/phone"

// provisionTokenLifetime is the requested lifetime for the secondary
// provision token, in seconds (30 days). The token is acknowledged and
// logged but not otherwise consumed.
const provisionTokenLifetime = 2592000

// Options configures a Client.
type Options struct {
	// Email and Password are the account credentials.
	Email    string
	Password string

	// APIBase and WSSBase override the vendor endpoints (staging, tests).
	APIBase string
	WSSBase string

	// InstanceName identifies this installation to the vendor.
	// Defaults to a random hex string.
	InstanceName string

	// CallTimeout bounds one websocket exchange. Defaults to 10s.
	CallTimeout time.Duration

	// RecvAttempts is the per-call receive bound. Defaults to 2.
	RecvAttempts int

	// HTTPClient overrides the REST client (tests). Defaults to a
	// client with a 10s total timeout.
	HTTPClient *http.Client

	// Dialer overrides the websocket dialer (tests).
	Dialer *websocket.Dialer

	// Store persists refreshed credentials. Nil disables persistence.
	Store CredentialStore

	// Logger is an optional structured logger.
	Logger Logger
}

// Client is a long-lived session with the Sampo Exohome cloud for one
// account. It owns the bearer token, the persistent websocket channel,
// and the request/response plumbing on top of it.
//
// Concurrency: Client methods that touch the channel (Connect,
// RefreshAll, SetField, Close) must be serialized by the caller; the
// polling coordinator runs them on a single worker goroutine. Session
// accessors are independently safe.
type Client struct {
	apiBase string
	wssBase string

	httpClient *http.Client
	dialer     *websocket.Dialer

	callTimeout  time.Duration
	recvAttempts int

	session   Session
	sessionMu sync.Mutex

	// channel is the persistent gateway connection. Reopened by the
	// owner only after ErrChannelClosed, never per call.
	channel  *Channel
	loggedIn bool

	store  CredentialStore
	logger Logger

	// now is the clock, injectable for expiry tests.
	now func() time.Time
}

// NewClient creates a client for one account. No network I/O happens
// until the first call.
func NewClient(opts Options) *Client {
	apiBase := opts.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	wssBase := opts.WSSBase
	if wssBase == "" {
		wssBase = DefaultWSSBase
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCallTimeout}
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	recvAttempts := opts.RecvAttempts
	if recvAttempts <= 0 {
		recvAttempts = defaultRecvAttempts
	}

	instanceName := opts.InstanceName
	if instanceName == "" {
		instanceName = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Client{
		apiBase:      apiBase,
		wssBase:      wssBase,
		httpClient:   httpClient,
		dialer:       opts.Dialer,
		callTimeout:  callTimeout,
		recvAttempts: recvAttempts,
		session: Session{
			Email:        opts.Email,
			Password:     opts.Password,
			InstanceName: instanceName,
		},
		store:  opts.Store,
		logger: logger,
		now:    time.Now,
	}
}

// Connect establishes the persistent gateway channel and runs the
// vendor's session handshake: login with the bearer token, then
// provision_token, get_user_data and get_me. The provision token is
// acknowledged and logged at debug only.
//
// Returns:
//   - error: ErrInvalidCredentials if the gateway rejects the token,
//     ErrChannelClosed / ErrRequestFailed on transport faults
func (c *Client) Connect(ctx context.Context) error {
	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return err
	}

	resp, err := ch.Call(ctx, RequestProvisionToken, "", map[string]any{
		"expires_in": provisionTokenLifetime,
	})
	if err != nil {
		return err
	}
	if resp.OK() {
		var provision struct {
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expires_in"`
		}
		if err := resp.DecodeData(&provision); err == nil {
			c.logger.Debug("provision token issued", "expires_in", provision.ExpiresIn)
		}
	}

	if _, err := ch.Call(ctx, RequestGetUserData, "", nil); err != nil {
		return err
	}
	if _, err := ch.Call(ctx, RequestGetMe, "", nil); err != nil {
		return err
	}

	return nil
}

// ensureChannel returns a connected, logged-in channel, dialing a new
// one when none exists or the previous one died.
func (c *Client) ensureChannel(ctx context.Context) (*Channel, error) {
	if c.channel == nil || c.channel.Closed() {
		ch, err := DialChannel(ctx, c.wssBase+gatewayPath, ChannelOptions{
			CallTimeout:  c.callTimeout,
			RecvAttempts: c.recvAttempts,
			Dialer:       c.dialer,
			Logger:       c.logger,
		})
		if err != nil {
			return nil, err
		}
		c.channel = ch
		c.loggedIn = false
	}

	if !c.loggedIn {
		token := c.Session().Token
		resp, err := c.channel.Call(ctx, RequestLogin, "", map[string]any{"token": token})
		if err != nil {
			return nil, err
		}
		if !resp.Empty() && !resp.OK() {
			return nil, fmt.Errorf("%w: gateway login status %q", ErrInvalidCredentials, resp.Status)
		}
		c.loggedIn = true
	}

	return c.channel, nil
}

// RefreshAll fetches the full device catalog: one `lst_device` call,
// then a `get` per listed device, each bundle shallow-merged over the
// listing properties.
//
// The previous catalog is the baseline: an empty device listing returns
// it unchanged (a transient empty response must not flap every known
// device to missing), and a device whose `get` fails keeps its previous
// record, so one broken device does not hide the others. Records are
// never evicted.
//
// Parameters:
//   - ctx: Per-cycle cancellation
//   - prev: The catalog from the previous cycle, nil on the first
//
// Returns:
//   - map: The full updated catalog (not a delta), always non-nil
//   - error: ErrInvalidCredentials if the gateway login failed,
//     ErrChannelClosed / ErrRequestFailed if login or listing failed
func (c *Client) RefreshAll(ctx context.Context, prev map[string]DeviceRecord) (map[string]DeviceRecord, error) {
	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return copyCatalog(prev), err
	}

	resp, err := ch.Call(ctx, RequestListDevices, "", nil)
	if err != nil {
		return copyCatalog(prev), err
	}
	if resp.Empty() || !resp.OK() {
		return copyCatalog(prev), fmt.Errorf("%w: device listing returned status %q", ErrRequestFailed, resp.Status)
	}

	var listed []DeviceRecord
	if err := resp.DecodeData(&listed); err != nil {
		return copyCatalog(prev), err
	}

	catalog := copyCatalog(prev)
	if len(listed) == 0 {
		c.logger.Warn("device listing empty, keeping previous catalog", "known_devices", len(catalog))
		return catalog, nil
	}

	for _, dev := range listed {
		if dev.DeviceID == "" {
			continue
		}
		if err := c.fetchDevice(ctx, ch, &dev); err != nil {
			// A dead stream aborts the cycle; anything else skips just
			// this device and keeps its previous record.
			if ctx.Err() != nil || ch.Closed() {
				return catalog, err
			}
			c.logger.Warn("device fetch failed, keeping previous record",
				"device", dev.DeviceID,
				"error", err,
			)
			continue
		}
		catalog[dev.DeviceID] = dev
	}

	return catalog, nil
}

// fetchDevice issues a `get` for one device and merges the returned
// property bundle into the record.
func (c *Client) fetchDevice(ctx context.Context, ch *Channel, dev *DeviceRecord) error {
	resp, err := ch.Call(ctx, RequestGet, dev.DeviceID, nil)
	if err != nil {
		return err
	}
	if resp.Empty() || !resp.OK() {
		return fmt.Errorf("%w: get for %s returned status %q", ErrRequestFailed, dev.DeviceID, resp.Status)
	}

	var bundle map[string]any
	if err := resp.DecodeData(&bundle); err != nil {
		return err
	}
	if id, _ := bundle["device"].(string); id != "" && id != dev.DeviceID {
		return fmt.Errorf("%w: get answered for device %s, wanted %s", ErrProtocol, id, dev.DeviceID)
	}

	dev.Properties = mergeProperties(dev.Properties, bundle)
	return nil
}

// SetField pushes one field mutation to a device.
//
// Fire-and-forget at the protocol level: no state is returned, and the
// local catalog is deliberately not touched. The change is confirmed
// only by the next refresh, so callers must schedule one after a short
// settle delay.
//
// Parameters:
//   - deviceID: Target device
//   - code: Field code (e.g. "H00")
//   - value: New field value
func (c *Client) SetField(ctx context.Context, deviceID, code string, value any) error {
	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return err
	}

	resp, err := ch.Call(ctx, RequestSet, deviceID, map[string]any{code: value})
	if err != nil {
		return err
	}
	if !resp.Empty() && !resp.OK() {
		return fmt.Errorf("%w: set %s on %s returned status %q", ErrRequestFailed, code, deviceID, resp.Status)
	}

	c.logger.Debug("field mutation sent", "device", deviceID, "field", code)
	return nil
}

// FirmwareList fetches available firmware updates for the catalog's
// models via the REST surface. With fewer than two devices the vendor
// endpoint has nothing useful to report and the call is skipped.
func (c *Client) FirmwareList(ctx context.Context, catalog map[string]DeviceRecord) ([]map[string]any, error) {
	if len(catalog) <= 1 {
		return nil, nil
	}

	models := make([]string, 0, len(catalog))
	for _, rec := range catalog {
		if model := rec.Model(); model != "" {
			models = append(models, model)
		}
	}
	if len(models) == 0 {
		return nil, nil
	}

	endpoint := c.apiBase + "/fw/list/" + strings.Join(models, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building firmware request: %w", ErrRequestFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: firmware request: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: firmware list returned %d", ErrRequestFailed, resp.StatusCode)
	}

	var list []map[string]any
	if err := decodeJSONBody(resp.Body, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Close tears down the persistent channel. Idempotent.
func (c *Client) Close() error {
	if c.channel == nil {
		return nil
	}
	c.loggedIn = false
	return c.channel.Close()
}
