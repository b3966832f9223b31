package network

import (
	"sort"
	"sync"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

// ProgressiveSearch tracks which hubs a broadcast has visited and which are
// still worth asking. Candidates are kept ordered by XOR distance of their
// identity to the target, closest first. A hub is never both visited and a
// candidate, and neither self nor a visited hub is queued again.
type ProgressiveSearch struct {
	self   protocol.GUID
	target protocol.GUID
	limit  int

	mu         sync.Mutex
	visited    protocol.KnownHubList
	candidates protocol.KnownHubList
}

// NewProgressiveSearch creates a search toward target tracking at most
// limit hubs in total. limit <= 0 means no limit.
func NewProgressiveSearch(self, target protocol.GUID, limit int) *ProgressiveSearch {
	return &ProgressiveSearch{
		self:   self,
		target: target,
		limit:  limit,
	}
}

// AddCandidates queues hubs that have not been seen yet and returns how many
// were added
func (p *ProgressiveSearch) AddCandidates(hubs []protocol.NodeInfo) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCandidates(hubs)
}

func (p *ProgressiveSearch) addCandidates(hubs []protocol.NodeInfo) int {
	added := 0
	for _, hub := range hubs {
		id := hub.Identity
		if id == protocol.EmptyGUID || id == p.self {
			continue
		}
		if p.visited.Contains(id) || p.candidates.Contains(id) {
			continue
		}
		if p.limit > 0 && len(p.visited)+len(p.candidates) >= p.limit {
			break
		}
		p.candidates = append(p.candidates, hub)
		added++
	}

	if added > 0 {
		sort.SliceStable(p.candidates, func(i, j int) bool {
			return closerTo(p.target, p.candidates[i].Identity, p.candidates[j].Identity)
		})
	}
	return added
}

// Next moves up to n candidates to the visited set and returns them
func (p *ProgressiveSearch) Next(n int) []protocol.NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.candidates) {
		n = len(p.candidates)
	}
	batch := make([]protocol.NodeInfo, n)
	copy(batch, p.candidates[:n])
	p.candidates = append(protocol.KnownHubList(nil), p.candidates[n:]...)
	p.visited = append(p.visited, batch...)
	return batch
}

// Merge folds a hub's acknowledgement into the search: its visited hubs are
// never asked and its candidates are queued
func (p *ProgressiveSearch) Merge(visited, candidates []protocol.NodeInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, hub := range visited {
		if hub.Identity == protocol.EmptyGUID || p.visited.Contains(hub.Identity) {
			continue
		}
		p.candidates = p.candidates.Without(hub.Identity)
		p.visited = append(p.visited, hub)
	}
	p.addCandidates(candidates)
}

// Visited returns the hubs asked so far, in order
func (p *ProgressiveSearch) Visited() []protocol.NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.NodeInfo(nil), p.visited...)
}

// Candidates returns the hubs still to ask, closest first
func (p *ProgressiveSearch) Candidates() []protocol.NodeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.NodeInfo(nil), p.candidates...)
}

// Exhausted reports whether no candidates remain
func (p *ProgressiveSearch) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates) == 0
}

// closerTo returns true if a is closer to target than b is
func closerTo(target, a, b protocol.GUID) bool {
	for i := range target {
		d1 := a[i] ^ target[i]
		d2 := b[i] ^ target[i]
		if d1 < d2 {
			return true
		}
		if d1 > d2 {
			return false
		}
	}
	return false
}
