package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: snapshot unavailable
	Error string `json:"error" example:"snapshot unavailable"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// SyncStats summarizes the document sync coordinator for /status.
type SyncStats struct {
	// Drive mode of the coordinator (immediate or periodic).
	// example: immediate
	Mode string `json:"mode" example:"immediate"`
	// Destination document as collection/key.
	// example: printer_status/current
	Document string `json:"document" example:"printer_status/current"`
	// Status fragments merged into the snapshot.
	// example: 1520
	Arrivals uint64 `json:"arrivals" example:"1520"`
	// Documents written to the store.
	// example: 310
	Writes uint64 `json:"writes" example:"310"`
	// Syncs skipped because the document did not change.
	// example: 1210
	Unchanged uint64 `json:"unchanged" example:"1210"`
	// Failed store writes.
	// example: 0
	Failures uint64 `json:"failures" example:"0"`
	// Time of the last successful write (unix seconds, 0 if none).
	// example: 1700000000
	LastWriteUnix int64 `json:"last_write_unix" example:"1700000000"`
	// Last write error, cleared by the next successful write.
	LastError string `json:"last_error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall supervisor state (starting, connecting, online, reconnecting, stopped).
	// example: online
	State string `json:"state" example:"online"`
	// Websocket connection state (disconnected, connected, subscribing, subscribed).
	// example: subscribed
	Connection string `json:"connection" example:"subscribed"`
	// Moonraker websocket endpoint.
	// example: ws://printer.local/websocket
	MoonrakerURL string `json:"moonraker_url" example:"ws://printer.local/websocket"`
	// File currently reported by the printer.
	// example: benchy.gcode
	Filename string `json:"filename,omitempty" example:"benchy.gcode"`
	// Successful connections since start, including the first one.
	// example: 3
	ConnectsTotal uint64 `json:"connects_total" example:"3"`
	// Connections lost since start.
	// example: 2
	DisconnectsTotal uint64 `json:"disconnects_total" example:"2"`
	// Time of the last successful connection (unix seconds, 0 if never).
	// example: 1700000000
	LastConnectedUnix int64 `json:"last_connected_unix" example:"1700000000"`
	// Last connection error observed by the supervisor (if any).
	LastError string `json:"last_error,omitempty"`
	// Coordinator counters.
	Sync SyncStats `json:"sync"`
	// Uptime of the bridge in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// SnapshotResponse is returned by GET /snapshot.
type SnapshotResponse struct {
	// Merged raw printer status keyed by printer object.
	Status map[string]any `json:"status"`
	// Last document written to the store, without its timestamp. Null before the first write.
	Document map[string]map[string]any `json:"document"`
}
