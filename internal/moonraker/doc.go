// Package moonraker is a websocket JSON-RPC client for the Moonraker printer
// daemon.
//
// A Client multiplexes concurrent requests over one connection. Listen is the
// single reader: it correlates responses to pending requests by id and hands
// notify_status_update payloads to the StatusHandler in arrival order.
// Reconnect retries with exponential backoff until the context ends.
package moonraker
