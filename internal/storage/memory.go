package storage

import (
	"context"
	"sync"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// MemoryStore keeps the ledger in process memory. Failures can be injected
// per operation for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	outcomes  []types.TradeOutcome
	positions map[string]types.OpenPositionRisk
	failures  map[string]error
	closed    bool
}

// Operation names accepted by FailOn
const (
	OpLoadOutcomes   = "load outcomes"
	OpAppendOutcome  = "append outcome"
	OpLoadPositions  = "load positions"
	OpPutPosition    = "put position"
	OpDeletePosition = "delete position"
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]types.OpenPositionRisk),
		failures:  make(map[string]error),
	}
}

// FailOn makes every later call of op fail with err; nil clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryStore) failure(op string) error {
	if m.closed {
		return storageErr(op, errClosed)
	}
	if err, ok := m.failures[op]; ok {
		return storageErr(op, err)
	}
	return nil
}

func (m *MemoryStore) LoadOutcomes(ctx context.Context) ([]types.TradeOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpLoadOutcomes); err != nil {
		return nil, err
	}
	out := make([]types.TradeOutcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out, nil
}

func (m *MemoryStore) AppendOutcome(ctx context.Context, outcome types.TradeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpAppendOutcome); err != nil {
		return err
	}
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *MemoryStore) LoadPositions(ctx context.Context) ([]types.OpenPositionRisk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpLoadPositions); err != nil {
		return nil, err
	}
	out := make([]types.OpenPositionRisk, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sortPositions(out)
	return out, nil
}

func (m *MemoryStore) PutPosition(ctx context.Context, pos types.OpenPositionRisk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpPutPosition); err != nil {
		return err
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *MemoryStore) DeletePosition(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpDeletePosition); err != nil {
		return err
	}
	delete(m.positions, id)
	return nil
}

// Close marks the store closed; later calls fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
