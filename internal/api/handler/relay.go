package handler

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/api/response"
	"github.com/Rrens/chat-gateway/internal/ledger"
)

// relayBacklog bounds the snapshots queued for a slow client. Beyond it
// the newest snapshot replaces the last queued one.
const relayBacklog = 64

// snapshotRelay moves ledger snapshots to the client on its own goroutine.
// publish never blocks, so a client that stops reading cannot stall the
// ledger or keep the session busy.
type snapshotRelay struct {
	events *response.EventWriter

	mu     sync.Mutex
	queue  []ledger.Snapshot
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newSnapshotRelay(events *response.EventWriter) *snapshotRelay {
	r := &snapshotRelay{
		events: events,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// publish queues snap for delivery
func (r *snapshotRelay) publish(snap ledger.Snapshot) {
	r.mu.Lock()
	if len(r.queue) >= relayBacklog {
		r.queue[len(r.queue)-1] = snap
	} else {
		r.queue = append(r.queue, snap)
	}
	r.mu.Unlock()
	r.signal()
}

// close delivers what is queued and waits for the writer to finish
func (r *snapshotRelay) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
	<-r.done
}

func (r *snapshotRelay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *snapshotRelay) run() {
	defer close(r.done)

	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, snap := range batch {
			if err := r.events.Send(EventSnapshot, snap); err != nil {
				log.Debug().Err(err).Msg("Client stopped reading the stream")
			}
		}

		if closed {
			return
		}
		if len(batch) == 0 {
			<-r.wake
		}
	}
}
