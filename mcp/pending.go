package mcp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// outcome is the terminal state of a pending request: a result payload or an
// error, never both.
type outcome struct {
	result json.RawMessage
	err    error
}

type pendingEntry struct {
	ch        chan outcome
	timer     *time.Timer
	createdAt time.Time
}

// pendingTable pairs outgoing requests with their eventual responses and
// enforces a per-request timeout. Each entry settles exactly once: whichever
// of response arrival, timeout, or table-wide failure wins removes the entry,
// and the losers become no-ops. Responses for unknown ids are discarded; the
// requester may already have timed out, so that is not a fault.
type pendingTable struct {
	mu      sync.Mutex
	entries map[int64]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*pendingEntry)}
}

// register creates a pending entry for id and starts its timeout timer. The
// returned channel yields the single outcome.
func (p *pendingTable) register(id int64, timeout time.Duration) <-chan outcome {
	entry := &pendingEntry{
		ch:        make(chan outcome, 1),
		createdAt: time.Now(),
	}

	// Timer creation and map insert happen under one lock acquisition: a
	// timer that fires immediately blocks in remove until the entry is
	// registered, so the timeout path always finds it.
	p.mu.Lock()
	entry.timer = time.AfterFunc(timeout, func() {
		if p.remove(id) == entry {
			entry.ch <- outcome{err: fmt.Errorf("%w: request %d after %s", ErrTimeout, id, timeout)}
		}
	})
	p.entries[id] = entry
	p.mu.Unlock()

	return entry.ch
}

// complete settles the entry for id with a result or a peer error. Returns
// false when no entry exists (late, duplicate, or never-registered response),
// in which case the payload is dropped.
func (p *pendingTable) complete(id int64, respErr *ResponseError, result json.RawMessage) bool {
	entry := p.remove(id)
	if entry == nil {
		return false
	}
	entry.timer.Stop()

	if respErr != nil {
		entry.ch <- outcome{err: respErr}
	} else {
		entry.ch <- outcome{result: result}
	}
	return true
}

// fail settles the entry for id with err. Used when the write for a request
// never reached the peer.
func (p *pendingTable) fail(id int64, err error) {
	entry := p.remove(id)
	if entry == nil {
		return
	}
	entry.timer.Stop()
	entry.ch <- outcome{err: err}
}

// failAll settles every outstanding entry with err. Used on session close.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]*pendingEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.ch <- outcome{err: err}
	}
}

// remove detaches and returns the entry for id, or nil if absent. Removal
// under the lock is what makes settlement exactly-once.
func (p *pendingTable) remove(id int64) *pendingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.entries[id]
	delete(p.entries, id)
	return entry
}

// size reports the number of outstanding entries.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
