package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/exohome-bridge/internal/coordinator"
	"github.com/nerrad567/exohome-bridge/internal/exohome"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one field write plus its follow-up refresh.
	commandTimeout = 15 * time.Second

	// defaultPublishInterval is how often device state is republished.
	defaultPublishInterval = 15 * time.Second

	// defaultHealthInterval is how often health status is published.
	defaultHealthInterval = 30 * time.Second
)

// Bridge presents one vendor account on MQTT. It publishes retained
// device state, accepts field write commands, reports coordinator
// health, and optionally records status history to InfluxDB.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	account  string
	mqtt     MQTTClient
	coord    Coordinator
	recorder Recorder

	publishInterval time.Duration
	healthInterval  time.Duration

	// stateCache holds the last published payload per device, minus the
	// timestamp, for change detection.
	stateCache   map[string][]byte
	stateCacheMu sync.Mutex

	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client; tests substitute a fake.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Coordinator is the per-account polling surface the bridge presents.
// Satisfied by *coordinator.Coordinator.
type Coordinator interface {
	// Catalog returns a snapshot of the device catalog.
	Catalog() map[string]exohome.DeviceRecord

	// SetField writes one field and refreshes the catalog.
	SetField(ctx context.Context, deviceID, code string, value any) error

	// RequestRefresh nudges the coordinator to refresh ahead of schedule.
	RequestRefresh()

	// State returns the coordinator lifecycle state.
	State() coordinator.State

	// LastError returns the most recent coordinator error.
	LastError() error
}

// Recorder persists status history. Satisfied by *influxdb.Client.
// Optional; a nil recorder disables history.
type Recorder interface {
	// WriteStatusField records one numeric status field.
	WriteStatusField(account, deviceID, field string, value float64)

	// WriteConnectivity records appliance reachability.
	WriteConnectivity(account, deviceID string, connected bool)
}

// Logger defines the logging interface for the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Account is the vendor account email this bridge presents.
	Account string

	// MQTT is the broker client.
	MQTT MQTTClient

	// Coordinator is the account's polling coordinator.
	Coordinator Coordinator

	// Recorder is optional status history storage. Nil disables history.
	Recorder Recorder

	// Logger is optional structured logging.
	Logger Logger

	// PublishInterval overrides how often device state is republished.
	PublishInterval time.Duration

	// HealthInterval overrides how often health status is published.
	HealthInterval time.Duration
}

// New creates a bridge for one account. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	publishInterval := opts.PublishInterval
	if publishInterval == 0 {
		publishInterval = defaultPublishInterval
	}
	healthInterval := opts.HealthInterval
	if healthInterval == 0 {
		healthInterval = defaultHealthInterval
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		account:         opts.Account,
		mqtt:            opts.MQTT,
		coord:           opts.Coordinator,
		recorder:        opts.Recorder,
		publishInterval: publishInterval,
		healthInterval:  healthInterval,
		stateCache:      make(map[string][]byte),
		startTime:       time.Now(),
		done:            make(chan struct{}),
		ctx:             ctx,
		ctxCancel:       ctxCancel,
		logger:          opts.Logger,
	}, nil
}

// Start subscribes to the account's command topics and begins the
// publish loop.
func (b *Bridge) Start() error {
	commandTopic := mqtt.Topics{}.AccountCommands(b.account)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.wg.Add(1)
	go b.publishLoop()

	b.logInfo("bridge started", "account", b.account)
	return nil
}

// Stop gracefully shuts down the bridge. A final health message with
// status "stopping" is published best effort.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.publishHealthStatus("stopping")
		b.logInfo("bridge stopped", "account", b.account)
	})
}

// publishLoop periodically publishes device state and health.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	stateTicker := time.NewTicker(b.publishInterval)
	defer stateTicker.Stop()
	healthTicker := time.NewTicker(b.healthInterval)
	defer healthTicker.Stop()

	b.PublishStates()
	b.publishHealth()

	for {
		select {
		case <-b.done:
			return
		case <-stateTicker.C:
			b.PublishStates()
		case <-healthTicker.C:
			b.publishHealth()
		}
	}
}

// PublishStates publishes the retained state of every device whose
// payload changed since the last publish, and records history for the
// whole catalog.
func (b *Bridge) PublishStates() {
	catalog := b.coord.Catalog()

	for deviceID, rec := range catalog {
		b.recordHistory(deviceID, rec)

		msg := NewStateMessage(b.account, rec)
		body, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err)
			continue
		}

		if !b.stateChanged(deviceID, body) {
			continue
		}

		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err)
			continue
		}

		topic := mqtt.Topics{}.DeviceState(b.account, deviceID)
		if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
			b.logError("failed to publish state", err)
			b.invalidateState(deviceID)
			continue
		}

		b.logDebug("published state", "device", deviceID, "topic", topic)
	}
}

// stateChanged updates the cache and reports whether the payload
// differs from the last published one.
func (b *Bridge) stateChanged(deviceID string, body []byte) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if prev, ok := b.stateCache[deviceID]; ok && string(prev) == string(body) {
		return false
	}
	b.stateCache[deviceID] = body
	return true
}

// invalidateState drops the cached payload so the next cycle retries
// the publish.
func (b *Bridge) invalidateState(deviceID string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, deviceID)
	b.stateCacheMu.Unlock()
}

// recordHistory writes connectivity and numeric status fields to the
// recorder, if one is configured.
func (b *Bridge) recordHistory(deviceID string, rec exohome.DeviceRecord) {
	if b.recorder == nil {
		return
	}

	b.recorder.WriteConnectivity(b.account, deviceID, rec.Connected())

	for code, value := range rec.Status() {
		if n, ok := value.(float64); ok {
			b.recorder.WriteStatusField(b.account, deviceID, code, n)
		}
	}
}

// publishHealth publishes the coordinator's current state.
func (b *Bridge) publishHealth() {
	b.publishHealthStatus(b.coord.State().String())
}

// publishHealthStatus publishes a health message with the given status.
func (b *Bridge) publishHealthStatus(status string) {
	msg := HealthMessage{
		Account:       b.account,
		Status:        status,
		Devices:       len(b.coord.Catalog()),
		UptimeSeconds: int64(time.Since(b.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := b.coord.LastError(); err != nil {
		msg.LastError = err.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal health", err)
		return
	}

	topic := mqtt.Topics{}.AccountHealth(b.account)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish health", err)
	}
}

// handleCommand processes one field write command from MQTT.
//
// The topic carries the routing (exohome/command/{account}/{device}/{field})
// and the payload carries the value: either a bare JSON scalar or an
// object with a "value" key.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	account, deviceID, field, err := mqtt.ParseCommandTopic(topic)
	if err != nil {
		return err
	}
	if account != b.account {
		// Another account's bridge will pick it up.
		return nil
	}

	value, err := parseCommandValue(payload)
	if err != nil {
		return fmt.Errorf("command on %s: %w", topic, err)
	}

	catalog := b.coord.Catalog()
	rec, ok := catalog[deviceID]
	if !ok {
		return fmt.Errorf("command for unknown device %s", deviceID)
	}
	if fields := rec.Fields(); len(fields) > 0 && !rec.SupportsField(field) {
		return fmt.Errorf("device %s does not support field %s", deviceID, field)
	}

	b.logInfo("received command", "device", deviceID, "field", field, "value", value)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.coord.SetField(ctx, deviceID, field, value); err != nil {
		return fmt.Errorf("setting %s on %s: %w", field, deviceID, err)
	}

	// The coordinator refreshed after the write; push the new state out
	// without waiting for the next tick.
	b.PublishStates()

	return nil
}

// parseCommandValue extracts the write value from a command payload.
// Accepts a bare JSON scalar or {"value": <scalar>}.
func parseCommandValue(payload []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	if obj, ok := raw.(map[string]any); ok {
		v, ok := obj["value"]
		if !ok {
			return nil, fmt.Errorf("payload object missing \"value\" key")
		}
		raw = v
	}

	switch raw.(type) {
	case float64, bool, string:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", raw)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
