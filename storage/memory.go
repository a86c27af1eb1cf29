package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsync/opsync/operation"
)

type entityKey struct {
	entityType string
	entityID   string
}

// MemoryStore is the in-memory reference implementation of Contract. It is
// the substrate the rest of this module is tested against, and a reasonable
// starting point for applications that don't need durability across
// restarts.
//
// pending() filters by status == Pending. Operations left in Syncing status
// by a crash between dispatch and outcome are normalised back to Pending by
// Initialize, rather than being tracked as a separate visible-on-restart
// case — see GetPendingOperations.
type MemoryStore struct {
	mu sync.Mutex

	entities map[entityKey]operation.Payload
	// ops preserves insertion order; it is the tie-break for operations
	// sharing a timestamp and the source of truth for iteration.
	ops      []operation.Operation
	opIndex  map[string]int // operation ID -> index into ops
	metadata map[string]string
}

var _ Contract = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[entityKey]operation.Payload),
		opIndex:  make(map[string]int),
		metadata: make(map[string]string),
	}
}

func (s *MemoryStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Any operation persisted in Syncing state at startup is treated as
	// Pending — recovery rule required by §7, mechanism (a): normalize on
	// load.
	for i := range s.ops {
		if s.ops[i].Status == operation.StatusSyncing {
			s.ops[i].Status = operation.StatusPending
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveEntity(_ context.Context, entityType, entityID string, data operation.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityKey{entityType, entityID}] = data.Clone()
	return nil
}

func (s *MemoryStore) GetEntity(_ context.Context, entityType, entityID string) (operation.Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entities[entityKey{entityType, entityID}]
	if !ok {
		return nil, false, nil
	}
	return data.Clone(), true, nil
}

func (s *MemoryStore) GetAllEntities(_ context.Context, entityType string) ([]operation.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []operation.Payload
	for k, v := range s.entities {
		if k.entityType == entityType {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteEntity(_ context.Context, entityType, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, entityKey{entityType, entityID})
	return nil
}

func (s *MemoryStore) EntityExists(_ context.Context, entityType, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[entityKey{entityType, entityID}]
	return ok, nil
}

func (s *MemoryStore) AddOperation(_ context.Context, op operation.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.opIndex[op.ID]; exists {
		return fmt.Errorf("storage: operation %q already exists", op.ID)
	}
	s.opIndex[op.ID] = len(s.ops)
	s.ops = append(s.ops, op.Clone())
	return nil
}

func (s *MemoryStore) UpdateOperation(_ context.Context, op operation.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exists := s.opIndex[op.ID]
	if !exists {
		return fmt.Errorf("storage: operation %q not found", op.ID)
	}
	s.ops[idx] = op.Clone()
	return nil
}

func (s *MemoryStore) GetOperation(_ context.Context, id string) (operation.Operation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, exists := s.opIndex[id]
	if !exists {
		return operation.Operation{}, false, nil
	}
	return s.ops[idx].Clone(), true, nil
}

func (s *MemoryStore) GetOperationsForEntity(_ context.Context, entityType, entityID string) ([]operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []operation.Operation
	for _, op := range s.ops {
		if op.EntityType == entityType && op.EntityID == entityID {
			out = append(out, op.Clone())
		}
	}
	sortByTimestampStable(out)
	return out, nil
}

// GetPendingOperations returns Pending operations in non-decreasing
// timestamp order, ties broken by insertion order. Syncing operations are
// not returned here — they are normalised to Pending by Initialize on
// startup, per the chosen recovery mechanism (§7).
func (s *MemoryStore) GetPendingOperations(_ context.Context) ([]operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []operation.Operation
	for _, op := range s.ops {
		if op.Status == operation.StatusPending {
			out = append(out, op.Clone())
		}
	}
	sortByTimestampStable(out)
	return out, nil
}

func (s *MemoryStore) DeleteOperation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteOperationLocked(id)
	return nil
}

func (s *MemoryStore) DeleteOperations(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.deleteOperationLocked(id)
	}
	return nil
}

func (s *MemoryStore) deleteOperationLocked(id string) {
	idx, exists := s.opIndex[id]
	if !exists {
		return // idempotent
	}
	s.ops = append(s.ops[:idx], s.ops[idx+1:]...)
	delete(s.opIndex, id)
	for i := idx; i < len(s.ops); i++ {
		s.opIndex[s.ops[i].ID] = i
	}
}

func (s *MemoryStore) GetPendingOperationsCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, op := range s.ops {
		if op.Status == operation.StatusPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SaveMetadata(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok, nil
}

func (s *MemoryStore) ClearMetadata(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = make(map[string]string)
	return nil
}

// ExecuteTransaction runs fn against an isolated shadow copy of the store's
// state. If fn returns an error, the shadow is discarded and the live state
// is untouched; otherwise the shadow's state is swapped in atomically.
func (s *MemoryStore) ExecuteTransaction(_ context.Context, fn func(tx Contract) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shadow := &MemoryStore{
		entities: cloneEntities(s.entities),
		ops:      cloneOps(s.ops),
		opIndex:  cloneOpIndex(s.opIndex),
		metadata: cloneMetadata(s.metadata),
	}

	if err := fn(shadow); err != nil {
		return err
	}

	s.entities = shadow.entities
	s.ops = shadow.ops
	s.opIndex = shadow.opIndex
	s.metadata = shadow.metadata
	return nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[entityKey]operation.Payload)
	s.ops = nil
	s.opIndex = make(map[string]int)
	s.metadata = make(map[string]string)
	return nil
}

func sortByTimestampStable(ops []operation.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Timestamp < ops[j].Timestamp
	})
}

func cloneEntities(m map[entityKey]operation.Payload) map[entityKey]operation.Payload {
	out := make(map[entityKey]operation.Payload, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func cloneOps(ops []operation.Operation) []operation.Operation {
	out := make([]operation.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

func cloneOpIndex(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
