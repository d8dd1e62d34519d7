// Package bridge presents vendor accounts on MQTT.
//
// One Bridge per account translates between the coordinator's device
// catalog and the broker:
//
//   - Retained device state on exohome/state/{account}/{device},
//     republished when the payload changes
//   - Field write commands from exohome/command/{account}/{device}/{field},
//     dispatched through the coordinator (write, settle, refresh)
//   - Coordinator health on exohome/health/{account}
//   - Optional status history via a Recorder (InfluxDB)
//
// Command payloads are a bare JSON scalar or {"value": <scalar>}:
//
//	mosquitto_pub -t 'exohome/command/user@example.com/dev-a/H03' -m '24'
//
// The bridge validates the target device and field against the catalog
// before dispatching, so typos fail fast instead of round-tripping to
// the vendor cloud.
package bridge
