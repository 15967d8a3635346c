package session

import (
	"sync"

	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/opencode-ai/agentmesh/internal/protocol"
)

// DefaultQueueSize is the outbound buffer per session.
const DefaultQueueSize = 64

// Queue decouples publishers from the transport: envelopes are buffered
// and drained by a single writer goroutine, which keeps the websocket's
// one-writer rule and makes fanout non-blocking. When the buffer is
// full the envelope is dropped and logged; the protocol offers no
// delivery guarantee to a consumer that cannot keep up.
type Queue struct {
	sessionID string
	out       Outbound
	ch        chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue starts the writer goroutine for a connection.
func NewQueue(sessionID string, out Outbound, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		sessionID: sessionID,
		out:       out,
		ch:        make(chan *protocol.Envelope, size),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	log := logging.Component("session")
	for {
		select {
		case <-q.done:
			return
		case env := <-q.ch:
			if err := q.out.Send(env); err != nil {
				log.Debug().
					Str("session", q.sessionID).
					Str("type", env.Type).
					Err(err).
					Msg("outbound write failed")
			}
		}
	}
}

// Enqueue buffers an envelope for delivery. Returns false if the queue
// is closed or full.
func (q *Queue) Enqueue(env *protocol.Envelope) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- env:
		return true
	case <-q.done:
		return false
	default:
		log := logging.Component("session")
		log.Warn().
			Str("session", q.sessionID).
			Str("type", env.Type).
			Msg("outbound queue full, dropping envelope")
		return false
	}
}

// Close stops the writer and closes the transport. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		_ = q.out.Close()
	})
}
