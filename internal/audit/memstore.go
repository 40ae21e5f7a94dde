package audit

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by unit tests. cmd/gatewayd and the
// CLIs use PGStore.
type MemStore struct {
	mu          sync.RWMutex
	chains      map[string]*Chain
	bySignal    map[string]string // profileID|signalID -> chainID
}

// NewMemStore builds an empty in-memory audit store.
func NewMemStore() *MemStore {
	return &MemStore{
		chains:   make(map[string]*Chain),
		bySignal: make(map[string]string),
	}
}

func signalKey(profileID, signalID string) string { return profileID + "|" + signalID }

func (m *MemStore) InsertChain(_ context.Context, c Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	cp.Nodes = append([]Node{}, c.Nodes...)
	m.chains[c.ID] = &cp
	m.bySignal[signalKey(c.ProfileID, c.SignalID)] = c.ID
	return nil
}

func (m *MemStore) InsertNode(_ context.Context, n Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[n.ChainID]
	if !ok {
		return ErrNotFound
	}
	c.Nodes = append(c.Nodes, n)
	return nil
}

func (m *MemStore) SealChain(_ context.Context, chainID string, outcome Outcome, sealedAtNS int64, root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[chainID]
	if !ok {
		return ErrNotFound
	}
	c.Outcome = outcome
	c.SealedAtNS = sealedAtNS
	c.RootHash = root
	return nil
}

func (m *MemStore) GetChain(_ context.Context, chainID string) (*Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[chainID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Nodes = append([]Node{}, c.Nodes...)
	return &cp, nil
}

func (m *MemStore) FindChainBySignal(_ context.Context, profileID, signalID string) (*Chain, error) {
	m.mu.RLock()
	id, ok := m.bySignal[signalKey(profileID, signalID)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetChain(context.Background(), id)
}

func (m *MemStore) QueryChains(_ context.Context, f Filter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*Chain
	for _, c := range m.chains {
		if f.ProfileID != "" && c.ProfileID != f.ProfileID {
			continue
		}
		if f.Outcome != "" && c.Outcome != f.Outcome {
			continue
		}
		if f.StartNS != 0 && c.CreatedAtNS < f.StartNS {
			continue
		}
		if f.EndNS != 0 && c.CreatedAtNS > f.EndNS {
			continue
		}
		if len(f.NodeTypes) > 0 && !chainHasAnyType(c, f.NodeTypes) {
			continue
		}
		matches = append(matches, c)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].SealedAtNS != matches[j].SealedAtNS {
			return matches[i].SealedAtNS < matches[j].SealedAtNS
		}
		return matches[i].ID < matches[j].ID
	})

	offset := f.Offset
	if offset > len(matches) {
		offset = len(matches)
	}
	matches = matches[offset:]
	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}

	ids := make([]string, 0, len(matches))
	for _, c := range matches {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func chainHasAnyType(c *Chain, types []NodeType) bool {
	set := make(map[NodeType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	for _, n := range c.Nodes {
		if set[n.Type] {
			return true
		}
	}
	return false
}
