package exohome

import (
	"context"
	"errors"
	"testing"
	"time"
)

func climateDevice(g *fakeGateway, id string) {
	g.addDevice(id, DeviceTypeClimate,
		map[string]any{ClimatePower: 0, ClimateOperatingMode: 0, ClimateTargetTemperature: 24},
		[]string{ClimatePower, ClimateOperatingMode, ClimateTargetTemperature},
		[]map[string]any{
			{ClimateOperatingMode: 0x1F},
			{ClimateTargetTemperature: 3016},
		},
	)
}

func fanDevice(g *fakeGateway, id string) {
	g.addDevice(id, DeviceTypeFan,
		map[string]any{FanPower: 1, FanSpeed: 3},
		[]string{FanPower, FanSpeed, FanOscillate},
		nil,
	)
}

func TestRefreshAll_PopulatesCatalog(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	fanDevice(g, "B")

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	catalog, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}

	if len(catalog) != 2 {
		t.Fatalf("catalog size = %d, want 2", len(catalog))
	}

	a, ok := catalog["A"]
	if !ok {
		t.Fatal("device A missing from catalog")
	}
	if a.DeviceType() != DeviceTypeClimate {
		t.Errorf("A.DeviceType() = %d, want climate (%d)", a.DeviceType(), DeviceTypeClimate)
	}
	if got, _ := a.StatusInt(ClimateTargetTemperature); got != 24 {
		t.Errorf("A target temperature = %d, want 24", got)
	}
	// Listing metadata survives the get merge.
	if a.DisplayName() != "Device A" {
		t.Errorf("A.DisplayName() = %q, want listing name preserved", a.DisplayName())
	}
	if !a.Connected() {
		t.Error("A.Connected() = false, want true")
	}

	b := catalog["B"]
	if b.DeviceType() != DeviceTypeFan {
		t.Errorf("B.DeviceType() = %d, want fan (%d)", b.DeviceType(), DeviceTypeFan)
	}
	if got, _ := b.StatusInt(FanSpeed); got != 3 {
		t.Errorf("B fan speed = %d, want 3", got)
	}
}

func TestRefreshAll_EmptyListingKeepsPreviousCatalog(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	first, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("first RefreshAll() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first catalog size = %d, want 1", len(first))
	}

	// Gateway now lists nothing. The previous catalog must survive.
	g.setListing([]map[string]any{})

	second, err := c.RefreshAll(context.Background(), first)
	if err != nil {
		t.Fatalf("second RefreshAll() error = %v", err)
	}
	if _, ok := second["A"]; !ok {
		t.Error("device A wiped by empty listing; previous record must be retained")
	}
}

func TestRefreshAll_PartialFailureSkipsDevice(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	fanDevice(g, "B")
	g.failGet["B"] = true

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	catalog, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() error = %v, want nil (one broken device must not abort)", err)
	}
	if _, ok := catalog["A"]; !ok {
		t.Error("device A missing; a broken sibling must not hide it")
	}
	if _, ok := catalog["B"]; ok {
		t.Error("device B present despite failed get on first sighting")
	}
}

func TestRefreshAll_PartialFailureKeepsPreviousRecord(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	fanDevice(g, "B")

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	first, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("first RefreshAll() error = %v", err)
	}

	g.failGet["B"] = true
	second, err := c.RefreshAll(context.Background(), first)
	if err != nil {
		t.Fatalf("second RefreshAll() error = %v", err)
	}

	b, ok := second["B"]
	if !ok {
		t.Fatal("device B missing; failed get must keep the previous record")
	}
	if got, _ := b.StatusInt(FanSpeed); got != 3 {
		t.Errorf("B fan speed = %d, want stale-but-present value 3", got)
	}
}

func TestRefreshAll_RejectedLogin(t *testing.T) {
	g := newFakeGateway(t)
	g.validToken = "the-real-token"
	climateDevice(g, "A")

	c := newTestClient(t, g) // restored token differs

	_, err := c.RefreshAll(context.Background(), nil)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("RefreshAll() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshAll_ToleratesStrayFrames(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	g.strayBefore[RequestListDevices] = 1

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	catalog, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if len(catalog) != 1 {
		t.Errorf("catalog size = %d, want 1 despite stray push", len(catalog))
	}
}

func TestRefreshAll_RecoversAfterStalledReply(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	g.stallNext(RequestListDevices)

	c := NewClient(Options{
		Email:       "user@example.com",
		Password:    "hunter2",
		WSSBase:     g.wsBase(),
		CallTimeout: 200 * time.Millisecond,
	})
	c.RestoreSession("token-abc", "user-1", 4102444800)
	defer c.Close() //nolint:errcheck // Test cleanup

	// The swallowed reply times the call out and poisons the websocket;
	// the failure stays a per-cycle transport fault.
	_, err := c.RefreshAll(context.Background(), nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("RefreshAll() during stall error = %v, want ErrRequestFailed", err)
	}

	// The next cycle must succeed on a fresh dial, not re-fail on the
	// dead connection.
	catalog, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() after stall error = %v", err)
	}
	if len(catalog) != 1 {
		t.Errorf("catalog size = %d, want 1", len(catalog))
	}
	if g.loginCalls() != 2 {
		t.Errorf("gateway login calls = %d, want 2 (one per connection)", g.loginCalls())
	}
}

func TestRefreshAll_RedialsAfterDeadConnection(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	g.dropNext(RequestListDevices)

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	_, err := c.RefreshAll(context.Background(), nil)
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("RefreshAll() on dropped connection error = %v, want ErrChannelClosed", err)
	}

	catalog, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() after drop error = %v", err)
	}
	if len(catalog) != 1 {
		t.Errorf("catalog size = %d, want 1", len(catalog))
	}
	if g.loginCalls() != 2 {
		t.Errorf("gateway login calls = %d, want 2 (one per connection)", g.loginCalls())
	}
}

func TestSetFieldThenRefresh_ObservesMutation(t *testing.T) {
	g := newFakeGateway(t)
	climateDevice(g, "A")
	fanDevice(g, "B")

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	first, err := c.RefreshAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if got, _ := first["A"].StatusInt(ClimatePower); got != 0 {
		t.Fatalf("A power before set = %d, want 0", got)
	}

	if err := c.SetField(context.Background(), "A", ClimatePower, 1); err != nil {
		t.Fatalf("SetField() error = %v", err)
	}

	// SetField must not touch the local catalog.
	if got, _ := first["A"].StatusInt(ClimatePower); got != 0 {
		t.Error("SetField mutated the cached record; confirmation comes only from refresh")
	}

	second, err := c.RefreshAll(context.Background(), first)
	if err != nil {
		t.Fatalf("confirming RefreshAll() error = %v", err)
	}
	if got, _ := second["A"].StatusInt(ClimatePower); got != 1 {
		t.Errorf("A power after set+refresh = %d, want 1", got)
	}
	// Only device A changed.
	if got, _ := second["B"].StatusInt(FanPower); got != 1 {
		t.Errorf("B power = %d, want untouched 1", got)
	}
}

func TestConnect_RunsHandshake(t *testing.T) {
	g := newFakeGateway(t)

	c := newTestClient(t, g)
	defer c.Close() //nolint:errcheck // Test cleanup

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if g.loginCalls() != 1 {
		t.Errorf("gateway login calls = %d, want 1", g.loginCalls())
	}

	// The channel persists: a refresh reuses it without another login.
	if _, err := c.RefreshAll(context.Background(), nil); err != nil {
		t.Fatalf("RefreshAll() after Connect error = %v", err)
	}
	if g.loginCalls() != 1 {
		t.Errorf("gateway login calls after refresh = %d, want 1 (persistent channel)", g.loginCalls())
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestClient(t, g)

	if err := c.Close(); err != nil {
		t.Errorf("Close() before connect error = %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil no-op", err)
	}
}

func TestFirmwareList_SkipsSmallCatalogs(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestClient(t, g)

	catalog := map[string]DeviceRecord{
		"A": {DeviceID: "A", Properties: map[string]any{}},
	}
	list, err := c.FirmwareList(context.Background(), catalog)
	if err != nil {
		t.Fatalf("FirmwareList() error = %v", err)
	}
	if list != nil {
		t.Errorf("FirmwareList() = %v, want nil for single-device catalog", list)
	}
}
