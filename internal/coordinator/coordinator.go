package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/exohome-bridge/internal/exohome"
)

// State represents the lifecycle phase of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateSettingUp
	StatePolling
	StateFailedAuth
	StateFailedTransport
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUp:
		return "setting_up"
	case StatePolling:
		return "polling"
	case StateFailedAuth:
		return "failed_auth"
	case StateFailedTransport:
		return "failed_transport"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Default timing values, used when the corresponding Config field is zero.
const (
	defaultPollInterval = 60 * time.Second
	defaultSetupTimeout = 10 * time.Second
	defaultSettleDelay  = 500 * time.Millisecond
)

// Client is the vendor cloud surface the coordinator drives. Satisfied
// by *exohome.Client; tests substitute a fake.
type Client interface {
	EnsureValid(ctx context.Context) (exohome.Session, error)
	Connect(ctx context.Context) error
	RefreshAll(ctx context.Context, prev map[string]exohome.DeviceRecord) (map[string]exohome.DeviceRecord, error)
	SetField(ctx context.Context, deviceID, code string, value any) error
	Close() error
}

// Config holds configuration for a Coordinator.
type Config struct {
	// Account identifies the vendor account, used in log output only.
	Account string

	// PollInterval is the time between catalog refresh cycles.
	PollInterval time.Duration

	// SetupTimeout bounds the Setup handshake.
	SetupTimeout time.Duration

	// SettleDelay is how long to wait after a field write before the
	// follow-up refresh, giving the cloud time to apply the change.
	SettleDelay time.Duration
}

// Logger defines the logging interface for the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Coordinator owns the authoritative device catalog for one account.
// It runs the setup handshake, refreshes the catalog on an interval,
// and serializes every cloud interaction on a single worker goroutine
// so that writes and refreshes never interleave.
type Coordinator struct {
	config Config
	client Client
	logger Logger

	mu        sync.RWMutex
	state     State
	catalog   map[string]exohome.DeviceRecord
	lastError error

	refreshCh chan struct{}
	jobs      chan func() bool
	done      chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc

	stopOnce sync.Once
}

// New creates a Coordinator for a single account.
// Zero Config durations are replaced with defaults.
func New(client Client, cfg Config) *Coordinator {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SetupTimeout == 0 {
		cfg.SetupTimeout = defaultSetupTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	return &Coordinator{
		config:    cfg,
		client:    client,
		logger:    noopLogger{},
		state:     StateIdle,
		catalog:   map[string]exohome.DeviceRecord{},
		refreshCh: make(chan struct{}, 1),
		jobs:      make(chan func() bool),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// Setup authenticates, opens the vendor channel and runs the connect
// handshake, then starts the polling loop. The whole sequence is
// bounded by the configured setup timeout.
//
// On invalid credentials the coordinator lands in StateFailedAuth; on
// any other failure in StateFailedTransport. Both are reported to the
// caller. Setup may only be called once from StateIdle.
//
// Parameters:
//   - ctx: Context for the handshake; the polling loop outlives it
//
// Returns:
//   - error: nil once polling has started
func (c *Coordinator) Setup(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("setup from state %s: %w", state, ErrAlreadyStarted)
	}
	c.state = StateSettingUp
	c.mu.Unlock()

	c.logger.Info("setting up", "account", c.config.Account)

	setupCtx, cancel := context.WithTimeout(ctx, c.config.SetupTimeout)
	defer cancel()

	if _, err := c.client.EnsureValid(setupCtx); err != nil {
		return c.failSetup(fmt.Errorf("validating session: %w", err))
	}
	if err := c.client.Connect(setupCtx); err != nil {
		return c.failSetup(fmt.Errorf("connecting: %w", err))
	}

	c.runCtx, c.runCancel = context.WithCancel(context.Background())

	c.mu.Lock()
	c.state = StatePolling
	c.mu.Unlock()

	c.logger.Info("setup complete, polling started",
		"account", c.config.Account,
		"interval", c.config.PollInterval,
	)

	go c.run()

	return nil
}

// failSetup records a setup failure and maps it to a terminal state.
func (c *Coordinator) failSetup(err error) error {
	state := StateFailedTransport
	if errors.Is(err, exohome.ErrInvalidCredentials) {
		state = StateFailedAuth
	}

	c.mu.Lock()
	c.state = state
	c.lastError = err
	c.mu.Unlock()

	c.logger.Error("setup failed",
		"account", c.config.Account,
		"state", state,
		"error", err,
	)
	return err
}

// run is the worker loop. Ticks, manual refresh requests and queued
// jobs all execute here, one at a time.
func (c *Coordinator) run() {
	defer close(c.done)

	// Populate the catalog before the first tick.
	if !c.refresh() {
		return
	}

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			if !c.refresh() {
				return
			}
		case <-c.refreshCh:
			if !c.refresh() {
				return
			}
		case job := <-c.jobs:
			if !job() {
				return
			}
		}
	}
}

// refresh runs one poll cycle: revalidate the session, fetch the full
// catalog, and swap it in. Reports false when polling must stop.
func (c *Coordinator) refresh() bool {
	if _, err := c.client.EnsureValid(c.runCtx); err != nil {
		return c.handleRefreshError(fmt.Errorf("validating session: %w", err))
	}

	c.mu.RLock()
	prev := c.catalog
	c.mu.RUnlock()

	next, err := c.client.RefreshAll(c.runCtx, prev)
	if err != nil {
		return c.handleRefreshError(fmt.Errorf("refreshing catalog: %w", err))
	}

	c.mu.Lock()
	c.catalog = next
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed",
		"account", c.config.Account,
		"devices", len(next),
	)
	return true
}

// handleRefreshError decides whether a failed cycle ends polling.
// Invalid credentials are fatal; everything else is retried on the
// next tick with the previous catalog intact.
func (c *Coordinator) handleRefreshError(err error) bool {
	if errors.Is(err, exohome.ErrInvalidCredentials) {
		c.mu.Lock()
		c.state = StateFailedAuth
		c.lastError = err
		c.mu.Unlock()

		c.logger.Error("credentials rejected, polling stopped",
			"account", c.config.Account,
			"error", err,
		)
		return false
	}

	if c.runCtx.Err() != nil {
		return false
	}

	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()

	c.logger.Warn("refresh cycle failed, retrying next tick",
		"account", c.config.Account,
		"error", err,
	)
	return true
}

// RequestRefresh nudges the worker to refresh ahead of the next tick.
// It never blocks; requests arriving while one is already pending are
// coalesced. A no-op unless the coordinator is polling.
func (c *Coordinator) RequestRefresh() {
	if c.State() != StatePolling {
		return
	}
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// SetField writes one field on one device, waits for the settle delay,
// then refreshes the catalog so the written value is observed. The
// whole sequence runs on the worker goroutine and therefore cannot
// interleave with a poll cycle.
//
// Parameters:
//   - ctx: Context bounding how long the caller waits
//   - deviceID: Vendor device identifier
//   - code: Field code, for example "H00"
//   - value: Value to write
//
// Returns:
//   - error: ErrNotPolling if the coordinator is not polling, the
//     client error otherwise
func (c *Coordinator) SetField(ctx context.Context, deviceID, code string, value any) error {
	if c.State() != StatePolling {
		return fmt.Errorf("set %s on %s: %w", code, deviceID, ErrNotPolling)
	}

	errCh := make(chan error, 1)
	job := func() bool {
		err := c.client.SetField(c.runCtx, deviceID, code, value)
		// The confirming refresh decides whether polling continues, so
		// an auth failure surfacing here stops the worker immediately
		// rather than on the next tick.
		cont := true
		if err == nil {
			c.settle()
			cont = c.refresh()
		}
		errCh <- err
		return cont
	}

	select {
	case c.jobs <- job:
	case <-c.done:
		return fmt.Errorf("set %s on %s: %w", code, deviceID, ErrNotPolling)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("setting %s on %s: %w", code, deviceID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle sleeps for the settle delay, cut short on shutdown.
func (c *Coordinator) settle() {
	timer := time.NewTimer(c.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.runCtx.Done():
	}
}

// Catalog returns a snapshot of the device catalog. The returned map
// is a copy; mutating it does not affect the coordinator.
func (c *Coordinator) Catalog() map[string]exohome.DeviceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]exohome.DeviceRecord, len(c.catalog))
	for id, rec := range c.catalog {
		out[id] = rec
	}
	return out
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the most recent error observed by the coordinator.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Shutdown stops the polling loop and closes the vendor channel.
// Safe to call multiple times and from any state.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		started := c.runCancel != nil
		if started {
			c.runCancel()
			<-c.done
		}

		if err := c.client.Close(); err != nil {
			c.logger.Warn("closing client", "account", c.config.Account, "error", err)
		}

		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()

		c.logger.Info("stopped", "account", c.config.Account)
	})
}
