// Package presence tracks the broadcast-channel presence mesh spec.md §5
// describes: every peer periodically posts a presence beacon naming
// itself and which documents it is serving, and other peers prune an
// entry once PEER_TIMEOUT_MS has passed without seeing fresh traffic from
// it. It is a pure freshness table with no transport of its own — callers
// feed it Beacon values however their broadcast channel delivers them
// (gossip, a shared pub/sub topic, a rendezvous server) — grounded on the
// last-write-wins tail-tracking shape of massifs/watcher's LogTailCollator:
// one map keyed by identity, each entry replaced only when the incoming
// record is newer than what's held.
package presence

import (
	"sort"
	"sync"
)

// Beacon is one presence announcement: a peer advertising that it is
// online and, optionally, which documents it currently holds a replica
// of (so a newly-joined peer can discover who to sync a given doc_id
// against without a separate directory service).
type Beacon struct {
	PeerId  string
	DocIds  []string
	AtMs    int64
}

// entry is the mesh's internal record for one peer: the most recent
// beacon received from it and when it was received, in mesh-local time
// (whatever clock Post's caller supplies).
type entry struct {
	beacon   Beacon
	lastSeenMs int64
}

// Mesh is a peer's view of who else is currently online. It is safe for
// concurrent use.
type Mesh struct {
	mu        sync.Mutex
	peers     map[string]entry
	timeoutMs int64
}

// NewMesh returns an empty Mesh that prunes entries after timeoutMs
// without a fresh Post (spec.md §5's PEER_TIMEOUT_MS).
func NewMesh(timeoutMs int64) *Mesh {
	return &Mesh{
		peers:     make(map[string]entry),
		timeoutMs: timeoutMs,
	}
}

// Post records b as the latest beacon seen from its peer, as of nowMs.
// An older beacon (AtMs behind what is already recorded) is ignored
// rather than overwriting a fresher record delivered out of order.
func (m *Mesh) Post(b Beacon, nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.peers[b.PeerId]; ok && existing.beacon.AtMs > b.AtMs {
		return
	}
	m.peers[b.PeerId] = entry{beacon: b, lastSeenMs: nowMs}
}

// Prune drops every entry not heard from within timeoutMs of nowMs,
// returning the peer ids removed.
func (m *Mesh) Prune(nowMs int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, e := range m.peers {
		if nowMs-e.lastSeenMs > m.timeoutMs {
			delete(m.peers, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Peers returns every currently-live peer id, sorted.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PeersForDoc returns the live peer ids that last advertised docId among
// their DocIds, sorted.
func (m *Mesh) PeersForDoc(docId string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, e := range m.peers {
		for _, d := range e.beacon.DocIds {
			if d == docId {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// LastSeenMs returns when peerId was last heard from, or ok=false if it
// is not currently tracked.
func (m *Mesh) LastSeenMs(peerId string) (ms int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.peers[peerId]
	return e.lastSeenMs, found
}
