package bridge

import (
	"github.com/nerrad567/exohome-bridge/internal/exohome"
)

// StateMessage is the retained per-device state payload published to
// exohome/state/{account}/{device}.
//
// Status carries both raw field codes and their decoded names so
// downstream consumers can subscribe without a field table.
type StateMessage struct {
	Device    string         `json:"device"`
	Account   string         `json:"account"`
	Name      string         `json:"name"`
	Type      int            `json:"type"`
	TypeName  string         `json:"type_name"`
	Model     string         `json:"model,omitempty"`
	Brand     string         `json:"brand,omitempty"`
	Firmware  string         `json:"firmware,omitempty"`
	Connected bool           `json:"connected"`
	Status    map[string]any `json:"status,omitempty"`
	Fields    []string       `json:"fields,omitempty"`

	// Ranges describes the legal values per writable field, decoded
	// from the device's advertised ranges and keyed like Status.
	Ranges map[string]FieldRangeInfo `json:"ranges,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}

// FieldRangeInfo is the decoded range for one field: either a discrete
// value set (mode-like fields) or a numeric window (temperatures).
type FieldRangeInfo struct {
	Values []int `json:"values,omitempty"`
	Min    int   `json:"min,omitempty"`
	Max    int   `json:"max,omitempty"`
}

// NewStateMessage builds a state message from a catalog record.
// Timestamp is left empty; the caller stamps it at publish time so
// unchanged payloads compare equal across cycles.
func NewStateMessage(account string, rec exohome.DeviceRecord) StateMessage {
	deviceType := rec.DeviceType()

	var status map[string]any
	if raw := rec.Status(); raw != nil {
		status = make(map[string]any, len(raw))
		for code, value := range raw {
			status[exohome.FieldName(deviceType, code)] = value
		}
	}

	var ranges map[string]FieldRangeInfo
	for _, code := range rec.Fields() {
		var info FieldRangeInfo
		if exohome.TemperatureRangeField(deviceType, code) {
			minTemp, maxTemp, ok := rec.TemperatureBounds(code)
			if !ok {
				continue
			}
			info = FieldRangeInfo{Min: minTemp, Max: maxTemp}
		} else {
			values := rec.AllowedValues(code)
			if values == nil {
				continue
			}
			info = FieldRangeInfo{Values: values}
		}
		if ranges == nil {
			ranges = make(map[string]FieldRangeInfo)
		}
		ranges[exohome.FieldName(deviceType, code)] = info
	}

	return StateMessage{
		Device:    rec.DeviceID,
		Account:   account,
		Name:      rec.DisplayName(),
		Type:      deviceType,
		TypeName:  exohome.DeviceTypeName(deviceType),
		Model:     rec.Model(),
		Brand:     rec.Brand(),
		Firmware:  rec.FirmwareVersion(),
		Connected: rec.Connected(),
		Status:    status,
		Fields:    rec.Fields(),
		Ranges:    ranges,
	}
}

// HealthMessage is the retained health payload published to
// exohome/health/{account}.
type HealthMessage struct {
	Account       string `json:"account"`
	Status        string `json:"status"`
	Devices       int    `json:"devices"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	LastError     string `json:"last_error,omitempty"`
	Timestamp     string `json:"timestamp"`
}
