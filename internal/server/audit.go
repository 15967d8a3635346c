package server

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentmesh/internal/event"
	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/opencode-ai/agentmesh/internal/storage"
)

// auditSink persists lifecycle events as JSON documents. It subscribes
// to the whole bus; write failures are logged and dropped, the mesh
// never blocks on its audit trail.
type auditSink struct {
	store *storage.Storage
	log   zerolog.Logger

	unsubscribe func()
}

// auditRecord is the persisted shape of one event.
type auditRecord struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func newAuditSink(dir string) *auditSink {
	return &auditSink{
		store: storage.New(dir),
		log:   logging.Component("audit"),
	}
}

// attach subscribes the sink to a bus. Events are keyed by ULID so the
// directory listing sorts chronologically.
func (a *auditSink) attach(bus *event.Bus) {
	a.unsubscribe = bus.SubscribeAll(func(e event.Event) {
		record := auditRecord{
			Type:      string(e.Type),
			Timestamp: time.Now().UTC(),
			Data:      e.Data,
		}
		key := []string{"events", ulid.Make().String()}
		if err := a.store.Put(context.Background(), key, record); err != nil {
			a.log.Warn().Str("event", record.Type).Err(err).Msg("audit write failed")
		}
	})
}

func (a *auditSink) detach() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
