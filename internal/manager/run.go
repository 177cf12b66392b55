package manager

import (
	"context"
	"time"
)

// Run keeps the daemon connection alive until ctx ends: connect (falling
// back to Reconnect), listen, and reconnect whenever the connection drops.
// On exit it disconnects and waits for in-flight metadata fetches. It
// returns nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return alreadyRunningError{}
	}
	m.running = true
	m.runCtx = ctx
	m.state = StateConnecting
	m.mu.Unlock()
	defer m.stop()

	m.publish(EventConnectStart, map[string]any{"url": m.client.URL()})
	if err := m.client.Connect(ctx); err != nil {
		m.recordError(err)
		m.publish(EventConnectFailed, map[string]any{"error": err.Error()})
		if err := m.reconnect(ctx); err != nil {
			return nil
		}
	}
	for {
		m.online()
		err := m.client.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.lost(err)
		if err := m.reconnect(ctx); err != nil {
			return nil
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) error {
	m.setState(StateReconnecting)
	m.publish(EventReconnectStart, nil)
	return m.client.Reconnect(ctx)
}

func (m *Manager) online() {
	m.mu.Lock()
	m.state = StateOnline
	m.connects++
	m.lastConnected = time.Now()
	n := m.connects
	m.mu.Unlock()
	m.publish(EventConnected, map[string]any{"connects": n})
}

func (m *Manager) lost(err error) {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	fields := map[string]any{}
	if err != nil {
		m.recordError(err)
		fields["error"] = err.Error()
	}
	m.publish(EventConnectionLost, fields)
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.err = err.Error()
	m.mu.Unlock()
}

func (m *Manager) stop() {
	if err := m.client.Disconnect(); err != nil {
		m.log.Debug().Err(err).Msg("disconnect")
	}
	m.wg.Wait()
	m.mu.Lock()
	m.state = StateStopped
	m.running = false
	m.runCtx = nil
	m.mu.Unlock()
	m.publish(EventStopped, nil)
}
