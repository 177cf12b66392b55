package moonraker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"printsync/internal/status"
)

const (
	methodSubscribe    = "printer.objects.subscribe"
	methodFileMetadata = "server.files.metadata"
	notifyStatusUpdate = "notify_status_update"
)

// StatusTopics are the printer objects subscribed to on every connection.
var StatusTopics = []string{
	"heater_bed",
	"extruder",
	"heaters",
	"print_stats",
	"display_status",
	"gcode_move",
	"virtual_sdcard",
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// frame is any inbound message: a response (id + result/error) or a
// notification (method + params).
type frame struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type subscribeResult struct {
	SubscriptionID any            `json:"subscription_id"`
	Status         map[string]any `json:"status"`
}

// statusPayload extracts the status object from notify_status_update params.
// The canonical shape is [subscriptionId, status]; a bare [status] (and
// Moonraker's [status, eventtime]) are accepted too.
func statusPayload(params json.RawMessage) (status.Snapshot, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(params, &items); err != nil {
		return nil, false
	}
	if len(items) >= 2 {
		if s, ok := decodeObject(items[1]); ok {
			return s, true
		}
	}
	if len(items) >= 1 {
		if s, ok := decodeObject(items[0]); ok {
			return s, true
		}
	}
	return nil, false
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// normalizeURL turns an http(s) base URL into the daemon's websocket
// endpoint. ws:// and wss:// URLs are used as given.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse moonraker url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("moonraker url %q has no host", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported moonraker url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	}
	return u.String(), nil
}
