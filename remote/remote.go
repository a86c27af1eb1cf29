// Package remote defines the remote adapter contract the sync engine
// dispatches operations through, the tagged SyncResult it expects back, and
// a registry keyed by entity type.
package remote

import (
	"context"
	"fmt"

	"github.com/opsync/opsync/operation"
)

// Adapter converts operations for one entity type into a server exchange
// and reports the outcome. Every method MUST be idempotent against the
// operation's ID: the engine assumes retrying an already-processed
// operation returns Success.
type Adapter interface {
	// EntityType returns the registry key this adapter handles.
	EntityType() string

	Create(ctx context.Context, op operation.Operation) (SyncResult, error)
	Update(ctx context.Context, op operation.Operation) (SyncResult, error)
	Delete(ctx context.Context, op operation.Operation) (SyncResult, error)

	// Custom dispatches a Custom(name) operation. The default embeddable
	// Base implementation fails with "unimplemented" for any name.
	Custom(ctx context.Context, op operation.Operation) (SyncResult, error)

	// FetchRemoteState supports out-of-band conflict fetches. Not used by
	// the default engine path, which relies on Conflict results instead.
	FetchRemoteState(ctx context.Context, entityID string) (operation.Payload, bool, error)

	// SyncBatch dispatches several operations at once. Base does not
	// implement it; adapters can build it on SyncBatchSerial, which loops
	// serial calls.
	SyncBatch(ctx context.Context, ops []operation.Operation) ([]SyncResult, error)
}

// ResultKind tags the variant of a SyncResult.
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultFailure  ResultKind = "failure"
	ResultConflict ResultKind = "conflict"
)

// SyncResult is the tagged outcome of one adapter call.
type SyncResult struct {
	Kind ResultKind

	// --- Success fields ---

	ServerID        string
	ServerTimestamp *int64
	// ResolvedPayload, if present, is an authoritative entity snapshot the
	// engine writes to local storage verbatim — how server-managed fields
	// (version counters, generated IDs) flow back into the local record.
	ResolvedPayload operation.Payload

	// --- Failure fields ---

	Message   string
	Retryable bool

	// --- Conflict fields ---

	ConflictData operation.Payload
}

// Success builds a ResultSuccess outcome. resolvedPayload may be nil.
func Success(resolvedPayload operation.Payload) SyncResult {
	return SyncResult{Kind: ResultSuccess, ResolvedPayload: resolvedPayload}
}

// SuccessWithServerInfo builds a ResultSuccess outcome carrying the
// server-assigned ID and/or timestamp alongside an optional resolved
// payload.
func SuccessWithServerInfo(serverID string, serverTimestamp *int64, resolvedPayload operation.Payload) SyncResult {
	return SyncResult{
		Kind:            ResultSuccess,
		ServerID:        serverID,
		ServerTimestamp: serverTimestamp,
		ResolvedPayload: resolvedPayload,
	}
}

// Failure builds a ResultFailure outcome.
func Failure(message string, retryable bool) SyncResult {
	return SyncResult{Kind: ResultFailure, Message: message, Retryable: retryable}
}

// Conflict builds a ResultConflict outcome.
func Conflict(data operation.Payload) SyncResult {
	return SyncResult{Kind: ResultConflict, ConflictData: data}
}

// Base is embeddable by concrete adapters to pick up the default behaviour
// for Custom (fail "unimplemented") without re-implementing it. Base has no
// SyncBatch method; see SyncBatchSerial.
type Base struct{}

func (Base) Custom(_ context.Context, op operation.Operation) (SyncResult, error) {
	return Failure(fmt.Sprintf("unimplemented: custom operation %q", op.OpKind.Name), false), nil
}

// SyncBatchSerial dispatches each op through dispatch in order. Concrete
// adapters embedding Base still need to provide their own SyncBatch that
// calls this helper, since Go embedding cannot call back into the embedder's
// Create/Update/Delete.
func SyncBatchSerial(ctx context.Context, ops []operation.Operation, dispatch func(context.Context, operation.Operation) (SyncResult, error)) ([]SyncResult, error) {
	results := make([]SyncResult, len(ops))
	for i, op := range ops {
		res, err := dispatch(ctx, op)
		if err != nil {
			return results, err
		}
		results[i] = res
	}
	return results, nil
}

// Registry maps entity_type to the Adapter responsible for it.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its EntityType().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.EntityType()] = a
}

// Get returns the adapter for entityType, or false if none is registered.
func (r *Registry) Get(entityType string) (Adapter, bool) {
	a, ok := r.adapters[entityType]
	return a, ok
}
