// Package oplog provides the operation-level vocabulary the rest of the
// sync engine is built on: a thin, stateless wrapper around a storage
// contract that centralizes how operations are appended, queried, and
// squashed.
package oplog

import (
	"context"
	"fmt"

	"github.com/opsync/opsync/operation"
	"github.com/opsync/opsync/storage"
)

// Log forwards every call to the underlying storage contract. It holds no
// state of its own; it exists to give callers operation-level verbs instead
// of making them reach for storage.Contract directly, and to group the
// remove+insert pair behind Squash into one transaction.
type Log struct {
	store storage.Contract
}

// New wraps store with the operation log vocabulary.
func New(store storage.Contract) *Log {
	return &Log{store: store}
}

// Append adds op to the log. Fails if op.ID already exists.
func (l *Log) Append(ctx context.Context, op operation.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	return l.store.AddOperation(ctx, op)
}

// Pending returns pending operations in non-decreasing timestamp order.
func (l *Log) Pending(ctx context.Context) ([]operation.Operation, error) {
	return l.store.GetPendingOperations(ctx)
}

// ForEntity returns all operations for (entityType, entityID), ordered by
// timestamp.
func (l *Log) ForEntity(ctx context.Context, entityType, entityID string) ([]operation.Operation, error) {
	return l.store.GetOperationsForEntity(ctx, entityType, entityID)
}

// Update replaces the record sharing op.ID. Fails if absent.
func (l *Log) Update(ctx context.Context, op operation.Operation) error {
	return l.store.UpdateOperation(ctx, op)
}

// Remove idempotently deletes the operation with the given ID.
func (l *Log) Remove(ctx context.Context, id string) error {
	return l.store.DeleteOperation(ctx, id)
}

// RemoveMany idempotently deletes every operation whose ID is in ids.
func (l *Log) RemoveMany(ctx context.Context, ids []string) error {
	return l.store.DeleteOperations(ctx, ids)
}

// PendingCount reports the number of pending operations.
func (l *Log) PendingCount(ctx context.Context) (int, error) {
	return l.store.GetPendingOperationsCount(ctx)
}

// Squash atomically removes every operation in removeSet and appends
// replacement in its place, via the storage contract's transactional batch.
// Both the removal of removeSet and the insertion of every operation in
// replacement happen inside one ExecuteTransaction call: a failure partway
// through — including after the first insert — leaves the log exactly as it
// was before Squash was called. This is stricter than the minimum the
// reducer needs (only the first replacement must land atomically with the
// removal) but it keeps a squashed group's extras from ever being visible
// without the group they were reduced from.
func (l *Log) Squash(ctx context.Context, removeSet []string, replacement []operation.Operation) error {
	return l.store.ExecuteTransaction(ctx, func(tx storage.Contract) error {
		if err := tx.DeleteOperations(ctx, removeSet); err != nil {
			return fmt.Errorf("oplog: squash removing operations: %w", err)
		}
		for _, op := range replacement {
			if err := op.Validate(); err != nil {
				return err
			}
			if err := tx.AddOperation(ctx, op); err != nil {
				return fmt.Errorf("oplog: squash inserting operation %s: %w", op.ID, err)
			}
		}
		return nil
	})
}
