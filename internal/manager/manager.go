package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"printsync/internal/logging"
	"printsync/internal/moonraker"
	"printsync/internal/status"
	"printsync/internal/syncer"
)

// daemon is the part of moonraker.Client the supervisor drives.
type daemon interface {
	URL() string
	State() moonraker.State
	Connect(ctx context.Context) error
	Listen(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Disconnect() error
	GetFileMetadata(ctx context.Context, filename string) status.FileMetadata
}

// Manager keeps one Moonraker connection alive and feeds its status stream
// into a sync coordinator.
type Manager struct {
	client       daemon
	coord        *syncer.Coordinator
	pub          EventPublisher
	log          zerolog.Logger
	writeTimeout time.Duration

	mu            sync.RWMutex
	state         State
	err           string
	running       bool
	runCtx        context.Context
	filename      string
	metaGen       uint64
	connects      uint64
	disconnects   uint64
	lastConnected time.Time
	startTime     time.Time

	// metadata fetches in flight
	wg sync.WaitGroup
}

// NewWithConfig constructs a Manager and its Moonraker client.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	if cfg.Coordinator == nil {
		return nil, configError{msg: "coordinator is required"}
	}
	cfg = cfg.withDefaults()
	m := newManager(cfg)
	opts := []moonraker.Option{
		moonraker.WithLogger(cfg.Logger),
		moonraker.WithMetadataTimeout(cfg.MetadataTimeout),
	}
	if cfg.Dialer != nil {
		opts = append(opts, moonraker.WithDialer(cfg.Dialer))
	}
	client, err := moonraker.New(cfg.MoonrakerURL, m.handleStatus, opts...)
	if err != nil {
		return nil, fmt.Errorf("moonraker client: %w", err)
	}
	m.client = client
	return m, nil
}

func newManager(cfg ManagerConfig) *Manager {
	return &Manager{
		coord:        cfg.Coordinator,
		pub:          cfg.Publisher,
		log:          logging.Component(cfg.Logger, "manager"),
		writeTimeout: cfg.WriteTimeout,
		state:        StateStarting,
		startTime:    time.Now(),
	}
}

// Ready reports whether the daemon connection is up and subscribed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	online := m.state == StateOnline
	m.mu.RUnlock()
	return online && m.client.State() == moonraker.StateSubscribed
}

// Coordinator returns the coordinator fed by this manager.
func (m *Manager) Coordinator() *syncer.Coordinator { return m.coord }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) publish(name string, fields map[string]any) {
	m.pub.Publish(Event{Name: name, Fields: fields})
}
