package exohome

// DeviceRecord is the cached property/status bundle for one physical
// appliance, as assembled from `lst_device` and per-device `get` calls.
//
// Properties is a shallow-merged view: listing metadata first, then the
// get bundle layered on top (new keys added, existing keys overwritten,
// unrelated keys preserved). Records are never evicted; a stale record
// is simply the last successfully fetched bundle.
//
// Readers must treat a DeviceRecord as a read-only snapshot. Only the
// refresh cycle writes to it.
type DeviceRecord struct {
	DeviceID   string         `json:"device"`
	Properties map[string]any `json:"properties"`
}

// DisplayName returns the user-assigned device name, or the device id
// when none is set.
func (d DeviceRecord) DisplayName() string {
	if name, ok := d.Properties["displayName"].(string); ok && name != "" {
		return name
	}
	return d.DeviceID
}

// Connected reports whether the vendor cloud considers the appliance
// online.
func (d DeviceRecord) Connected() bool {
	connected, _ := d.Properties["connected"].(bool)
	return connected
}

// DeviceType returns the appliance type from profile.esh.device_id
// (DeviceTypeClimate, DeviceTypeFan, ...). Returns 0 when the profile
// is absent or malformed.
func (d DeviceRecord) DeviceType() int {
	esh, ok := d.eshProfile()
	if !ok {
		return 0
	}
	// JSON numbers decode as float64.
	if id, ok := esh["device_id"].(float64); ok {
		return int(id)
	}
	return 0
}

// Model returns the appliance model string from profile.esh.
func (d DeviceRecord) Model() string {
	esh, ok := d.eshProfile()
	if !ok {
		return ""
	}
	model, _ := esh["model"].(string)
	return model
}

// Brand returns the appliance brand string from profile.esh.
func (d DeviceRecord) Brand() string {
	esh, ok := d.eshProfile()
	if !ok {
		return ""
	}
	brand, _ := esh["brand"].(string)
	return brand
}

// FirmwareVersion returns the module firmware version.
func (d DeviceRecord) FirmwareVersion() string {
	module, ok := d.moduleProfile()
	if !ok {
		return ""
	}
	fw, _ := module["firmware_version"].(string)
	return fw
}

// LocalIP returns the appliance's LAN address as reported by the cloud.
func (d DeviceRecord) LocalIP() string {
	module, ok := d.moduleProfile()
	if !ok {
		return ""
	}
	ip, _ := module["local_ip"].(string)
	return ip
}

// Status returns the current field values, keyed by field code.
// Returns nil when no status bundle has been fetched yet.
func (d DeviceRecord) Status() map[string]any {
	status, _ := d.Properties["status"].(map[string]any)
	return status
}

// StatusValue returns the raw value of one status field.
func (d DeviceRecord) StatusValue(code string) (any, bool) {
	status := d.Status()
	if status == nil {
		return nil, false
	}
	v, ok := status[code]
	return v, ok
}

// StatusInt returns one status field as an int. JSON numbers arrive as
// float64; everything else reports false.
func (d DeviceRecord) StatusInt(code string) (int, bool) {
	v, ok := d.StatusValue(code)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Fields returns the set of field codes the physical device supports.
func (d DeviceRecord) Fields() []string {
	raw, ok := d.Properties["fields"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		if code, ok := f.(string); ok {
			fields = append(fields, code)
		}
	}
	return fields
}

// SupportsField reports whether the device advertises the field code.
func (d DeviceRecord) SupportsField(code string) bool {
	for _, f := range d.Fields() {
		if f == code {
			return true
		}
	}
	return false
}

// FieldRange returns the raw range value for a field code from the
// fields_range list. The value is a bitmask of legal discrete values
// for mode-like fields, or an encoded numeric bound for others.
func (d DeviceRecord) FieldRange(code string) (int, bool) {
	raw, ok := d.Properties["fields_range"].([]any)
	if !ok {
		return 0, false
	}
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m[code]; ok {
			if n, ok := v.(float64); ok {
				return int(n), true
			}
		}
	}
	return 0, false
}

// AllowedValues interprets a field's range as a bitmask and returns the
// discrete values the device accepts (bit n set means value n is legal).
// Returns nil when the field has no range entry.
func (d DeviceRecord) AllowedValues(code string) []int {
	rng, ok := d.FieldRange(code)
	if !ok {
		return nil
	}
	var values []int
	for bit := 0; rng>>bit != 0; bit++ {
		if rng&(1<<bit) != 0 {
			values = append(values, bit)
		}
	}
	return values
}

// TemperatureBounds interprets a field's range as an encoded temperature
// window: max*100 + min (e.g. 3016 means 16..30 degrees).
func (d DeviceRecord) TemperatureBounds(code string) (minTemp, maxTemp int, ok bool) {
	rng, found := d.FieldRange(code)
	if !found {
		return 0, 0, false
	}
	maxTemp = rng / 100
	minTemp = rng - maxTemp*100
	return minTemp, maxTemp, true
}

// eshProfile returns the profile.esh map.
func (d DeviceRecord) eshProfile() (map[string]any, bool) {
	profile, ok := d.Properties["profile"].(map[string]any)
	if !ok {
		return nil, false
	}
	esh, ok := profile["esh"].(map[string]any)
	return esh, ok
}

// moduleProfile returns the profile.module map.
func (d DeviceRecord) moduleProfile() (map[string]any, bool) {
	profile, ok := d.Properties["profile"].(map[string]any)
	if !ok {
		return nil, false
	}
	module, ok := profile["module"].(map[string]any)
	return module, ok
}

// mergeProperties layers src over dst, one level deep: new keys are
// added, existing keys overwritten, keys absent from src preserved.
func mergeProperties(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// copyCatalog returns a new map with the same records. Record contents
// are shared; callers treat records as read-only snapshots.
func copyCatalog(catalog map[string]DeviceRecord) map[string]DeviceRecord {
	out := make(map[string]DeviceRecord, len(catalog))
	for id, rec := range catalog {
		out[id] = rec
	}
	return out
}
