// Package coordinator drives the per-account polling lifecycle.
//
// A Coordinator owns the authoritative device catalog for one Exohome
// account. It authenticates, runs the websocket connect handshake, then
// refreshes the catalog on a fixed interval. Every cloud interaction is
// serialized on one worker goroutine so a field write and its follow-up
// refresh can never interleave with a scheduled poll.
//
// Lifecycle:
//
//	StateIdle → StateSettingUp → StatePolling
//	                          ↘ StateFailedAuth | StateFailedTransport
//	(any state) → StateStopped on Shutdown
//
// Invalid credentials are terminal: the coordinator stops polling and
// lands in StateFailedAuth. Transient transport failures are logged and
// retried on the next tick with the previous catalog left intact.
//
// Example usage:
//
//	coord := coordinator.New(client, coordinator.Config{
//	    Account:      "user@example.com",
//	    PollInterval: 60 * time.Second,
//	})
//
//	if err := coord.Setup(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Shutdown()
package coordinator
