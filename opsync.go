// Package opsync exposes the facade the application drives: a thin layer
// over the operation log and sync engine offering two orthogonal usage
// modes, hybrid and source-of-truth, without either mode changing the core.
package opsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opsync/opsync/oplog"
	"github.com/opsync/opsync/operation"
	"github.com/opsync/opsync/remote"
	"github.com/opsync/opsync/resolve"
	"github.com/opsync/opsync/storage"
	"github.com/opsync/opsync/syncengine"
)

// Facade is the application-facing entry point. Build one with New.
type Facade struct {
	store    storage.Contract
	log      *oplog.Log
	engine   *syncengine.Engine
	deviceID string
	clock    func() int64
}

// Options configures a Facade at construction time. Every dependency is
// injected — the facade owns no ambient globals.
type Options struct {
	Store     storage.Contract
	Adapters  *remote.Registry
	Resolvers map[string]resolve.ConflictResolver
	Engine    syncengine.Config
	Logger    *slog.Logger
}

// New builds a Facade, wiring the operation log and sync engine over the
// same storage.Contract.
func New(opts Options) *Facade {
	engine := syncengine.New(opts.Store, opts.Adapters, opts.Resolvers, opts.Engine, opts.Logger)
	clock := opts.Engine.Clock
	if clock == nil {
		clock = defaultClock
	}
	return &Facade{
		store:    opts.Store,
		log:      oplog.New(opts.Store),
		engine:   engine,
		deviceID: opts.Engine.DeviceID,
		clock:    clock,
	}
}

// Sync drains pending operations. See syncengine.Engine.Sync.
func (f *Facade) Sync(ctx context.Context) error {
	return f.engine.Sync(ctx)
}

// Status returns the most recent sync status event.
func (f *Facade) Status() syncengine.StatusEvent {
	return f.engine.Status()
}

// IsSyncing reports whether a Sync call is currently in progress.
func (f *Facade) IsSyncing() bool {
	return f.engine.IsSyncing()
}

// StatusStream subscribes to the engine's status event stream.
func (f *Facade) StatusStream() <-chan syncengine.StatusEvent {
	return f.engine.StatusStream()
}

// Unsubscribe releases a channel returned by StatusStream.
func (f *Facade) Unsubscribe(ch <-chan syncengine.StatusEvent) {
	f.engine.Unsubscribe(ch)
}

// Close releases the facade's resources, including the status stream.
func (f *Facade) Close() {
	f.engine.Close()
}

// --- Hybrid mode: the application owns entity storage -----------------------

// LogCreate appends a Create operation. The application is expected to have
// already written the entity to its own storage.
func (f *Facade) LogCreate(ctx context.Context, entityType, entityID string, payload operation.Payload) error {
	return f.appendOp(ctx, entityType, entityID, operation.Create(), payload)
}

// LogUpdate appends an Update operation.
func (f *Facade) LogUpdate(ctx context.Context, entityType, entityID string, payload operation.Payload) error {
	return f.appendOp(ctx, entityType, entityID, operation.Update(), payload)
}

// LogDelete appends a Delete operation.
func (f *Facade) LogDelete(ctx context.Context, entityType, entityID string) error {
	return f.appendOp(ctx, entityType, entityID, operation.Delete(), operation.Payload{})
}

// LogCustom appends a Custom(name) operation.
func (f *Facade) LogCustom(ctx context.Context, entityType, entityID, name string, payload operation.Payload) error {
	return f.appendOp(ctx, entityType, entityID, operation.Custom(name), payload)
}

func (f *Facade) appendOp(ctx context.Context, entityType, entityID string, kind operation.OpKind, payload operation.Payload) error {
	op := operation.Operation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		EntityType: entityType,
		EntityID:   entityID,
		OpKind:     kind,
		Payload:    payload,
		Timestamp:  f.clock(),
		Status:     operation.StatusPending,
		DeviceID:   f.deviceID,
	}
	if err := f.log.Append(ctx, op); err != nil {
		return fmt.Errorf("opsync: logging %s for %s/%s: %w", kind, entityType, entityID, err)
	}
	return nil
}

// --- Source-of-truth mode: the core owns entity storage AND the log --------

// Save writes data to entity storage and appends the corresponding
// operation. isNew, when non-nil, forces Create vs Update; otherwise the
// facade infers it from storage.EntityExists.
func (f *Facade) Save(ctx context.Context, entityType, entityID string, data operation.Payload, isNew *bool) error {
	create := false
	if isNew != nil {
		create = *isNew
	} else {
		exists, err := f.store.EntityExists(ctx, entityType, entityID)
		if err != nil {
			return fmt.Errorf("opsync: checking existence of %s/%s: %w", entityType, entityID, err)
		}
		create = !exists
	}

	if err := f.store.SaveEntity(ctx, entityType, entityID, data); err != nil {
		return fmt.Errorf("opsync: saving entity %s/%s: %w", entityType, entityID, err)
	}

	kind := operation.Update()
	if create {
		kind = operation.Create()
	}
	return f.appendOp(ctx, entityType, entityID, kind, data)
}

// Delete removes data from entity storage and appends a Delete operation.
func (f *Facade) Delete(ctx context.Context, entityType, entityID string) error {
	if err := f.store.DeleteEntity(ctx, entityType, entityID); err != nil {
		return fmt.Errorf("opsync: deleting entity %s/%s: %w", entityType, entityID, err)
	}
	return f.appendOp(ctx, entityType, entityID, operation.Delete(), operation.Payload{})
}

func defaultClock() int64 { return nowMillis() }
