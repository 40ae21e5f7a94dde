package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store for unit and scenario tests.
type MemStore struct {
	mu        sync.RWMutex
	profiles  map[string]*Profile
	positions map[string]*Position
	emergency EmergencyState
}

// NewMemStore builds an empty in-memory store with Emergency State normal.
func NewMemStore() *MemStore {
	return &MemStore{
		profiles:  make(map[string]*Profile),
		positions: make(map[string]*Position),
		emergency: EmergencyState{Level: EmergencyNormal},
	}
}

func (m *MemStore) GetProfile(_ context.Context, profileID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[profileID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) PutProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *MemStore) OpenPositions(_ context.Context, profileID string) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Position
	for _, p := range m.positions {
		if p.ProfileID == profileID && p.ClosedAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemStore) GetPosition(_ context.Context, ticket string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[ticket]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) InsertPosition(_ context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.positions[p.Ticket] = &cp
	return nil
}

func (m *MemStore) ClosePosition(_ context.Context, ticket string, closedAtNS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[ticket]
	if !ok {
		return ErrNotFound
	}
	t := nsToTime(closedAtNS)
	p.ClosedAt = &t
	return nil
}

func (m *MemStore) UpdatePositionMark(_ context.Context, ticket string, mark, unrealizedPnL decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[ticket]
	if !ok {
		return ErrNotFound
	}
	p.CurrentMark = mark
	p.UnrealizedPnL = unrealizedPnL
	return nil
}

func (m *MemStore) GetEmergencyState(_ context.Context) (*EmergencyState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := m.emergency
	cp.RestoreActors = append([]string{}, m.emergency.RestoreActors...)
	return &cp, nil
}

func (m *MemStore) CompareAndSwapEmergencyState(_ context.Context, expectLevel EmergencyLevel, next EmergencyState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emergency.Level != expectLevel {
		return false, nil
	}
	m.emergency = next
	return true, nil
}
