package manager

import (
	"time"

	"printsync/pkg/types"
)

// Snapshot returns a read-only view of the supervisor state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	state, err := m.state, m.err
	m.mu.RUnlock()
	return Snapshot{
		State:      state,
		Connection: m.client.State(),
		Status:     m.coord.Snapshot(),
		Document:   m.coord.LastWritten(),
		Err:        err,
	}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	stats := m.coord.Stats()
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:            string(m.state),
		Connection:       m.client.State().String(),
		MoonrakerURL:     m.client.URL(),
		Filename:         m.filename,
		ConnectsTotal:    m.connects,
		DisconnectsTotal: m.disconnects,
		LastError:        m.err,
		Sync: types.SyncStats{
			Mode:      m.coord.Mode().String(),
			Document:  m.coord.Document(),
			Arrivals:  stats.Arrivals,
			Writes:    stats.Writes,
			Unchanged: stats.Unchanged,
			Failures:  stats.Failures,
			LastError: stats.LastError,
		},
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if !m.lastConnected.IsZero() {
		resp.LastConnectedUnix = m.lastConnected.Unix()
	}
	if !stats.LastWriteAt.IsZero() {
		resp.Sync.LastWriteUnix = stats.LastWriteAt.Unix()
	}
	return resp
}
