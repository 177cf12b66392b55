package manager

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"printsync/internal/syncer"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultWriteTimeout    = 10 * time.Second
	defaultMetadataTimeout = 10 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// MoonrakerURL is the daemon endpoint; http(s) URLs are rewritten to ws(s).
	MoonrakerURL    string
	MetadataTimeout time.Duration
	// Dialer overrides the websocket dialer (optional).
	Dialer *websocket.Dialer

	Coordinator *syncer.Coordinator
	// WriteTimeout bounds each store write issued from a status arrival.
	WriteTimeout time.Duration
	Publisher    EventPublisher
	Logger       zerolog.Logger
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	return cfg
}
