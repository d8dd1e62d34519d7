package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatusField records one numeric status field for one appliance.
//
// This is the primary method for building status history. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - account: Vendor account the device belongs to
//   - deviceID: Vendor device identifier
//   - field: Field code (e.g., "H03" for target temperature)
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteStatusField("user@example.com", "dev-a", "H03", 22)
func (c *Client) WriteStatusField(account, deviceID, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"appliance_status",
		map[string]string{
			"account": account,
			"device":  deviceID,
			"field":   field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectivity records whether an appliance was reachable during a
// poll cycle. Stored as 1 (connected) or 0 (disconnected) so gaps and
// dropouts chart cleanly.
//
// Parameters:
//   - account: Vendor account the device belongs to
//   - deviceID: Vendor device identifier
//   - connected: Reachability reported by the vendor cloud
func (c *Client) WriteConnectivity(account, deviceID string, connected bool) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if connected {
		value = 1.0
	}

	point := write.NewPoint(
		"appliance_connectivity",
		map[string]string{
			"account": account,
			"device":  deviceID,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
