// Package mqtt wraps paho.mqtt.golang for the bridge's broker traffic.
//
// The bridge presents each vendor account over a flat topic scheme:
//
//	exohome/state/{account}/{device}          retained device state (JSON)
//	exohome/command/{account}/{device}/{field} field write commands
//	exohome/health/{account}                  coordinator health (JSON)
//	exohome/system/status                     bridge online/offline + LWT
//
// Features:
//   - Connection management with auto-reconnect and exponential backoff
//   - Last Will and Testament on exohome/system/status
//   - Subscription tracking with automatic restore on reconnect
//   - Panic recovery around message handlers
//   - Topic builders and a command topic parser
//
// Example usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	client.Subscribe(topics.AccountCommands("user@example.com"), 1, handleCommand)
package mqtt
