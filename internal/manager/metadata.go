package manager

import (
	"context"

	"printsync/internal/status"
	"printsync/internal/syncer"
)

// handleStatus is the client's status handler. It runs on the dispatch
// goroutine, so metadata requests are issued from separate goroutines.
func (m *Manager) handleStatus(fragment status.Snapshot) {
	if touchesFilename(fragment) {
		name := status.Filename(status.Merge(m.coord.Snapshot(), fragment))
		m.mu.RLock()
		changed := name != m.filename
		m.mu.RUnlock()
		if changed {
			m.refreshMetadata(name)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()
	m.coord.HandleStatus(ctx, fragment)
}

// touchesFilename reports whether fragment carries a field the print
// filename is derived from.
func touchesFilename(fragment status.Snapshot) bool {
	if _, ok := fragment.Topic("print_stats")["filename"]; ok {
		return true
	}
	_, ok := fragment.Topic("virtual_sdcard")["file_path"]
	return ok
}

// refreshMetadata drops the metadata of the previous file and fetches the
// metadata of name in the background. Only the fetch for the latest name is
// installed.
func (m *Manager) refreshMetadata(name string) {
	m.mu.Lock()
	m.filename = name
	m.metaGen++
	gen := m.metaGen
	ctx := m.runCtx
	m.coord.SetFileMetadata(nil)
	m.mu.Unlock()

	m.publish(EventFileChanged, map[string]any{"filename": name})
	if name == "" || ctx == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		meta := m.client.GetFileMetadata(ctx, name)
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		current := gen == m.metaGen
		if current {
			m.coord.SetFileMetadata(meta)
		}
		m.mu.Unlock()
		if !current {
			return
		}
		m.publish(EventMetadataLoaded, map[string]any{"filename": name, "fields": len(meta)})
		if m.coord.Mode() == syncer.ModeImmediate {
			wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
			defer cancel()
			m.coord.SyncNow(wctx, nil)
		}
	}()
}
