package manager

import (
	"github.com/rs/zerolog"

	"printsync/internal/logging"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logging.Component(l, "manager")}
}

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Info()
	if e.Name == EventConnectFailed || e.Name == EventConnectionLost {
		ev = p.log.Warn()
	}
	ev.Fields(e.Fields).Str("event", e.Name).Msg("supervisor event")
}
