// Package storage defines the contract the sync engine consumes to persist
// entities, operations, and metadata, plus a MemoryStore reference
// implementation and a SQLite-backed implementation.
package storage

import (
	"context"

	"github.com/opsync/opsync/operation"
)

// Contract is the interface the core persists entities, operations, and
// metadata through. Implementations are expected to provide linearizable
// single-operation semantics and an atomic ExecuteTransaction for the
// batched mutations Squash relies on.
type Contract interface {
	Initialize(ctx context.Context) error
	Close() error

	SaveEntity(ctx context.Context, entityType, entityID string, data operation.Payload) error
	GetEntity(ctx context.Context, entityType, entityID string) (operation.Payload, bool, error)
	GetAllEntities(ctx context.Context, entityType string) ([]operation.Payload, error)
	DeleteEntity(ctx context.Context, entityType, entityID string) error
	EntityExists(ctx context.Context, entityType, entityID string) (bool, error)

	AddOperation(ctx context.Context, op operation.Operation) error
	UpdateOperation(ctx context.Context, op operation.Operation) error
	GetOperation(ctx context.Context, id string) (operation.Operation, bool, error)
	GetOperationsForEntity(ctx context.Context, entityType, entityID string) ([]operation.Operation, error)
	GetPendingOperations(ctx context.Context) ([]operation.Operation, error)
	DeleteOperation(ctx context.Context, id string) error
	DeleteOperations(ctx context.Context, ids []string) error
	GetPendingOperationsCount(ctx context.Context) (int, error)

	SaveMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	ClearMetadata(ctx context.Context) error

	// ExecuteTransaction runs fn atomically: if fn returns an error, every
	// mutation fn performed through tx is rolled back and the error is
	// returned; otherwise the mutations commit.
	ExecuteTransaction(ctx context.Context, fn func(tx Contract) error) error

	ClearAll(ctx context.Context) error
}
