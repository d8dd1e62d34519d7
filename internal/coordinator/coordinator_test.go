package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/exohome-bridge/internal/exohome"
)

// fakeClient is a scriptable stand-in for *exohome.Client.
type fakeClient struct {
	mu sync.Mutex

	ensureErr  error
	connectErr error

	// refreshErrs are consumed one per RefreshAll call; nil entries
	// mean success. After the queue drains, calls succeed.
	refreshErrs []error

	catalog map[string]exohome.DeviceRecord

	// When refreshGate is non-nil, RefreshAll announces entry on
	// refreshStarted and then blocks until the gate receives.
	refreshGate    chan struct{}
	refreshStarted chan struct{}

	ensureCalls  int
	refreshCalls int
	setCalls     []setCall
	closeCalls   int
}

type setCall struct {
	deviceID string
	code     string
	value    any
}

func (f *fakeClient) EnsureValid(context.Context) (exohome.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.ensureErr != nil {
		return exohome.Session{}, f.ensureErr
	}
	return exohome.Session{Token: "token-abc"}, nil
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeClient) RefreshAll(ctx context.Context, prev map[string]exohome.DeviceRecord) (map[string]exohome.DeviceRecord, error) {
	f.mu.Lock()
	gate := f.refreshGate
	started := f.refreshStarted
	f.mu.Unlock()
	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++

	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]exohome.DeviceRecord, len(f.catalog))
	for id, rec := range f.catalog {
		out[id] = rec
	}
	return out, nil
}

func (f *fakeClient) SetField(_ context.Context, deviceID, code string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, setCall{deviceID, code, value})
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeClient) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func record(id string, props map[string]any) exohome.DeviceRecord {
	return exohome.DeviceRecord{DeviceID: id, Properties: props}
}

func newTestCoordinator(t *testing.T, client *fakeClient) *Coordinator {
	t.Helper()
	coord := New(client, Config{
		Account:      "test@example.com",
		PollInterval: 20 * time.Millisecond,
		SetupTimeout: time.Second,
		SettleDelay:  time.Millisecond,
	})
	t.Cleanup(coord.Shutdown)
	return coord
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinator_SetupPopulatesCatalog(t *testing.T) {
	client := &fakeClient{
		catalog: map[string]exohome.DeviceRecord{
			"dev-a": record("dev-a", map[string]any{"displayName": "Lounge"}),
		},
	}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if got := coord.State(); got != StatePolling {
		t.Fatalf("State() = %v, want %v", got, StatePolling)
	}

	waitFor(t, time.Second, func() bool {
		return len(coord.Catalog()) == 1
	}, "catalog never populated")

	rec, ok := coord.Catalog()["dev-a"]
	if !ok {
		t.Fatal("device dev-a missing from catalog")
	}
	if rec.DisplayName() != "Lounge" {
		t.Errorf("DisplayName() = %q, want %q", rec.DisplayName(), "Lounge")
	}
}

func TestCoordinator_SetupAuthFailure(t *testing.T) {
	client := &fakeClient{ensureErr: exohome.ErrInvalidCredentials}
	coord := newTestCoordinator(t, client)

	err := coord.Setup(context.Background())
	if !errors.Is(err, exohome.ErrInvalidCredentials) {
		t.Fatalf("Setup() error = %v, want ErrInvalidCredentials", err)
	}
	if got := coord.State(); got != StateFailedAuth {
		t.Errorf("State() = %v, want %v", got, StateFailedAuth)
	}
	if client.refreshCount() != 0 {
		t.Errorf("refresh ran %d times after failed setup", client.refreshCount())
	}
}

func TestCoordinator_SetupTransportFailure(t *testing.T) {
	client := &fakeClient{connectErr: exohome.ErrRequestFailed}
	coord := newTestCoordinator(t, client)

	err := coord.Setup(context.Background())
	if !errors.Is(err, exohome.ErrRequestFailed) {
		t.Fatalf("Setup() error = %v, want ErrRequestFailed", err)
	}
	if got := coord.State(); got != StateFailedTransport {
		t.Errorf("State() = %v, want %v", got, StateFailedTransport)
	}
}

func TestCoordinator_SetupTwice(t *testing.T) {
	client := &fakeClient{}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := coord.Setup(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestCoordinator_AuthFailureDuringPollStops(t *testing.T) {
	client := &fakeClient{
		catalog:     map[string]exohome.DeviceRecord{"dev-a": record("dev-a", nil)},
		refreshErrs: []error{nil, exohome.ErrInvalidCredentials},
	}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return coord.State() == StateFailedAuth
	}, "coordinator never reached failed_auth")

	// Polling has stopped: the call count no longer grows.
	calls := client.refreshCount()
	time.Sleep(100 * time.Millisecond)
	if got := client.refreshCount(); got != calls {
		t.Errorf("refresh calls grew from %d to %d after auth failure", calls, got)
	}
	if !errors.Is(coord.LastError(), exohome.ErrInvalidCredentials) {
		t.Errorf("LastError() = %v, want ErrInvalidCredentials", coord.LastError())
	}
}

func TestCoordinator_TransientFailureKeepsPollingAndCatalog(t *testing.T) {
	client := &fakeClient{
		catalog:     map[string]exohome.DeviceRecord{"dev-a": record("dev-a", nil)},
		refreshErrs: []error{nil, exohome.ErrRequestFailed},
	}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return client.refreshCount() >= 3
	}, "polling did not continue past the failed cycle")

	if got := coord.State(); got != StatePolling {
		t.Errorf("State() = %v, want %v", got, StatePolling)
	}
	if len(coord.Catalog()) != 1 {
		t.Errorf("catalog lost across a failed cycle: %d devices", len(coord.Catalog()))
	}
}

func TestCoordinator_RequestRefreshCoalesces(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 16)
	client := &fakeClient{
		catalog:        map[string]exohome.DeviceRecord{},
		refreshGate:    gate,
		refreshStarted: started,
	}
	coord := New(client, Config{
		Account:      "test@example.com",
		PollInterval: time.Hour, // ticks out of the picture
		SetupTimeout: time.Second,
		SettleDelay:  time.Millisecond,
	})
	t.Cleanup(coord.Shutdown)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	// Let the initial refresh through.
	<-started
	gate <- struct{}{}

	// Park the worker inside a refresh, then burst nudges at it. They
	// collapse into a single pending request.
	coord.RequestRefresh()
	<-started
	for i := 0; i < 5; i++ {
		coord.RequestRefresh()
	}
	gate <- struct{}{}

	// Exactly one coalesced refresh follows.
	<-started
	gate <- struct{}{}
	waitFor(t, time.Second, func() bool { return client.refreshCount() == 3 },
		"coalesced refresh never completed")

	// Nothing further is pending.
	select {
	case <-started:
		t.Fatal("worker picked up an extra refresh; nudges were not coalesced")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_RequestRefreshBeforeSetup(t *testing.T) {
	coord := newTestCoordinator(t, &fakeClient{})

	// Must not block or panic while idle.
	coord.RequestRefresh()

	if got := coord.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
}

func TestCoordinator_SetFieldWritesThenRefreshes(t *testing.T) {
	client := &fakeClient{
		catalog: map[string]exohome.DeviceRecord{"dev-a": record("dev-a", nil)},
	}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return client.refreshCount() >= 1 },
		"initial refresh never ran")

	before := client.refreshCount()
	if err := coord.SetField(context.Background(), "dev-a", "H00", 1); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}

	client.mu.Lock()
	calls := append([]setCall(nil), client.setCalls...)
	client.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("SetField dispatched %d writes, want 1", len(calls))
	}
	if calls[0].deviceID != "dev-a" || calls[0].code != "H00" {
		t.Errorf("write = %+v, want dev-a/H00", calls[0])
	}

	// The follow-up refresh runs as part of the SetField sequence.
	waitFor(t, time.Second, func() bool { return client.refreshCount() > before },
		"no refresh followed the field write")
}

func TestCoordinator_SetFieldAuthFailureStopsWorker(t *testing.T) {
	client := &fakeClient{
		catalog: map[string]exohome.DeviceRecord{"dev-a": record("dev-a", nil)},
	}
	// A long poll interval isolates the SetField-driven refresh from
	// ticker-driven ones.
	coord := New(client, Config{
		Account:      "test@example.com",
		PollInterval: time.Hour,
		SetupTimeout: time.Second,
		SettleDelay:  time.Millisecond,
	})
	t.Cleanup(coord.Shutdown)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return client.refreshCount() >= 1 },
		"initial refresh never ran")

	client.mu.Lock()
	client.refreshErrs = []error{exohome.ErrInvalidCredentials}
	client.mu.Unlock()

	// The write itself succeeds; the rejection surfaces through the
	// confirming refresh.
	if err := coord.SetField(context.Background(), "dev-a", "H00", 1); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}

	if got := coord.State(); got != StateFailedAuth {
		t.Errorf("State() = %v, want StateFailedAuth", got)
	}

	// The worker must have exited, not idle until the next tick.
	select {
	case coord.jobs <- func() bool { return true }:
		t.Error("worker still accepting jobs after auth failure")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_SetFieldBeforeSetup(t *testing.T) {
	coord := newTestCoordinator(t, &fakeClient{})

	err := coord.SetField(context.Background(), "dev-a", "H00", 1)
	if !errors.Is(err, ErrNotPolling) {
		t.Errorf("SetField() error = %v, want ErrNotPolling", err)
	}
}

func TestCoordinator_CatalogSnapshotIsolated(t *testing.T) {
	client := &fakeClient{
		catalog: map[string]exohome.DeviceRecord{"dev-a": record("dev-a", nil)},
	}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(coord.Catalog()) == 1 },
		"catalog never populated")

	snap := coord.Catalog()
	delete(snap, "dev-a")

	if len(coord.Catalog()) != 1 {
		t.Error("mutating the snapshot affected the coordinator's catalog")
	}
}

func TestCoordinator_ShutdownIdempotent(t *testing.T) {
	client := &fakeClient{}
	coord := newTestCoordinator(t, client)

	if err := coord.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	coord.Shutdown()
	coord.Shutdown()

	if got := coord.State(); got != StateStopped {
		t.Errorf("State() = %v, want %v", got, StateStopped)
	}
	client.mu.Lock()
	closes := client.closeCalls
	client.mu.Unlock()
	if closes != 1 {
		t.Errorf("client closed %d times, want 1", closes)
	}
}

func TestCoordinator_ShutdownWithoutSetup(t *testing.T) {
	client := &fakeClient{}
	coord := New(client, Config{})

	coord.Shutdown()

	if got := coord.State(); got != StateStopped {
		t.Errorf("State() = %v, want %v", got, StateStopped)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateSettingUp, "setting_up"},
		{StatePolling, "polling"},
		{StateFailedAuth, "failed_auth"},
		{StateFailedTransport, "failed_transport"},
		{StateStopped, "stopped"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
