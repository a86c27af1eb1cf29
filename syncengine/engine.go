// Package syncengine drives pending operations through their remote
// adapters, applying the core's reduction, retry, and conflict-resolution
// policy, and reflecting server-returned canonical state back into local
// storage.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsync/opsync/oplog"
	"github.com/opsync/opsync/operation"
	"github.com/opsync/opsync/reduce"
	"github.com/opsync/opsync/remote"
	"github.com/opsync/opsync/resolve"
	"github.com/opsync/opsync/storage"
)

const (
	otelScope        = "opsync/syncengine"
	spanSync         = "syncengine.sync"
	spanSyncOne      = "syncengine.sync_one"
	metricSynced     = "opsync.syncengine.operations_synced"
	metricFailed     = "opsync.syncengine.operations_failed"
	metricRetried    = "opsync.syncengine.operations_retried"
	metricConflicts  = "opsync.syncengine.conflicts_resolved"
	metricRunErrors  = "opsync.syncengine.run_errors"
	metadataLastSync = "last_sync_time"
)

// ErrAlreadySyncing is returned by Sync when a drain is already in
// progress; the caller should treat this as a signal, not a failure.
var ErrAlreadySyncing = errors.New("syncengine: sync already in progress")

// Config controls the optional policy knobs of an Engine.
type Config struct {
	// DeviceID identifies this device. The engine itself does not read it
	// (Merge resolutions keep the operation's original device_id); the
	// facade stamps it onto every operation it logs.
	DeviceID string

	// MaxRetries bounds retryable-failure requeues: a retryable failure
	// requeues the operation while RetryCount < MaxRetries, and the next
	// retryable failure after RetryCount reaches MaxRetries marks it Failed.
	MaxRetries int

	// Reduce enables the §4.2 squash pass before dispatch.
	Reduce bool

	// StopOnError aborts the remainder of a sync() drain on the first
	// non-recovered failure, emitting (Error, ...) instead of continuing.
	StopOnError bool

	// Clock returns the current wall-clock time as epoch milliseconds.
	// Defaults to a real clock; tests may override it.
	Clock func() int64
}

// Engine orchestrates draining the operation log against registered remote
// adapters. Create one with New.
type Engine struct {
	log       *oplog.Log
	store     storage.Contract
	adapters  *remote.Registry
	resolvers map[string]resolve.ConflictResolver
	cfg       Config
	logger    *slog.Logger

	status   atomic.Value // StatusEvent
	syncing  atomic.Bool
	broadcast *statusBroadcaster

	tracer      trace.Tracer
	cntSynced   metric.Int64Counter
	cntFailed   metric.Int64Counter
	cntRetried  metric.Int64Counter
	cntConflict metric.Int64Counter
	cntRunErr   metric.Int64Counter
}

// New builds an Engine over store, with adapters and resolvers keyed by
// entity type. resolvers may be nil or partial; an entity type with no
// resolver fails conflicts with "conflict without resolver".
func New(store storage.Contract, adapters *remote.Registry, resolvers map[string]resolve.ConflictResolver, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = defaultClock
	}
	if resolvers == nil {
		resolvers = make(map[string]resolve.ConflictResolver)
	}
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	e := &Engine{
		log:       oplog.New(store),
		store:     store,
		adapters:  adapters,
		resolvers: resolvers,
		cfg:       cfg,
		logger:    logger,
		broadcast: newStatusBroadcaster(),

		tracer:      otel.Tracer(otelScope),
		cntSynced:   mustCounter(metricSynced, "Number of operations successfully synced"),
		cntFailed:   mustCounter(metricFailed, "Number of operations terminally failed"),
		cntRetried:  mustCounter(metricRetried, "Number of operations requeued for retry"),
		cntConflict: mustCounter(metricConflicts, "Number of conflicts resolved"),
		cntRunErr:   mustCounter(metricRunErrors, "Number of sync() invocations that aborted with an error"),
	}
	e.status.Store(StatusEvent{Status: StatusIdle})
	return e
}

func defaultClock() int64 { return nowMillis() }

// StatusStream returns a channel of StatusEvents emitted from this point
// forward. Call Unsubscribe when done to release it.
func (e *Engine) StatusStream() <-chan StatusEvent {
	return e.broadcast.Subscribe()
}

// Unsubscribe releases a channel previously returned by StatusStream.
func (e *Engine) Unsubscribe(ch <-chan StatusEvent) {
	e.broadcast.Unsubscribe(ch)
}

// Status returns the most recently emitted StatusEvent.
func (e *Engine) Status() StatusEvent {
	return e.status.Load().(StatusEvent)
}

// IsSyncing reports whether a Sync call is currently draining the log.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// Close releases the status broadcaster's subscriber channels.
func (e *Engine) Close() {
	e.broadcast.Close()
}

func (e *Engine) emit(ev StatusEvent) {
	e.status.Store(ev)
	e.broadcast.Emit(ev)
}

// Sync makes one pass over the pending operations, dispatching each to its
// adapter, unless StopOnError aborts the pass early. Operations requeued for
// retry stay pending for the next Sync call. Returns ErrAlreadySyncing if a
// drain is already running.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return ErrAlreadySyncing
	}
	defer e.syncing.Store(false)

	ctx, span := e.tracer.Start(ctx, spanSync)
	defer span.End()

	pending, err := e.log.Pending(ctx)
	if err != nil {
		e.cntRunErr.Add(ctx, 1)
		span.RecordError(err)
		e.emit(StatusEvent{Status: StatusError, Error: err.Error()})
		return fmt.Errorf("syncengine: loading pending operations: %w", err)
	}

	if e.cfg.Reduce {
		pending, err = e.reducePending(ctx, pending)
		if err != nil {
			e.cntRunErr.Add(ctx, 1)
			span.RecordError(err)
			e.emit(StatusEvent{Status: StatusError, Error: err.Error()})
			return fmt.Errorf("syncengine: reducing pending operations: %w", err)
		}
	}

	total := len(pending)
	e.emit(StatusEvent{Status: StatusSyncing, Total: total, Completed: 0})

	completed := 0
	for _, op := range pending {
		recovered, syncErr := e.syncOne(ctx, op)
		completed++

		if syncErr != nil && !recovered {
			if e.cfg.StopOnError {
				e.cntRunErr.Add(ctx, 1)
				e.emit(StatusEvent{Status: StatusError, Error: "Sync stopped due to error", Total: total, Completed: completed})
				return syncErr
			}
		}
		e.emit(StatusEvent{Status: StatusSyncing, Total: total, Completed: completed})
	}

	if err := e.store.SaveMetadata(ctx, metadataLastSync, fmt.Sprintf("%d", e.cfg.Clock())); err != nil {
		e.cntRunErr.Add(ctx, 1)
		span.RecordError(err)
		e.emit(StatusEvent{Status: StatusError, Error: err.Error()})
		return fmt.Errorf("syncengine: persisting last_sync_time: %w", err)
	}

	e.emit(StatusEvent{Status: StatusIdle})
	return nil
}

// reducePending groups pending by (entity_type, entity_id), reduces each
// group, and atomically rewrites the log to reflect the reduction. It
// returns the surviving operations re-collected and sorted by timestamp.
func (e *Engine) reducePending(ctx context.Context, pending []operation.Operation) ([]operation.Operation, error) {
	type key struct{ entityType, entityID string }
	groups := make(map[key][]operation.Operation)
	order := make([]key, 0)
	for _, op := range pending {
		k := key{op.EntityType, op.EntityID}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], op)
	}

	var survivors []operation.Operation
	for _, k := range order {
		group := groups[k]
		removeSet := make([]string, len(group))
		for i, op := range group {
			removeSet[i] = op.ID
		}

		reduced := reduce.Many(group)
		if len(reduced) == 0 {
			if err := e.log.RemoveMany(ctx, removeSet); err != nil {
				return nil, fmt.Errorf("removing cancelled-out group for %s/%s: %w", k.entityType, k.entityID, err)
			}
			continue
		}

		if err := e.log.Squash(ctx, removeSet, reduced); err != nil {
			return nil, fmt.Errorf("squashing group for %s/%s: %w", k.entityType, k.entityID, err)
		}
		survivors = append(survivors, reduced...)
	}

	sortByTimestampStable(survivors)
	return survivors, nil
}

// syncOne dispatches a single operation and applies its outcome. recovered
// reports whether the log's state was left in a way that does not require
// aborting the whole sync() drain (matching §4.3's use of the term).
func (e *Engine) syncOne(ctx context.Context, op operation.Operation) (recovered bool, err error) {
	ctx, span := e.tracer.Start(ctx, spanSyncOne)
	defer span.End()
	span.SetAttributes(
		attribute.String("operation.id", op.ID),
		attribute.String("operation.entity_type", op.EntityType),
		attribute.String("operation.kind", op.OpKind.String()),
	)

	adapter, ok := e.adapters.Get(op.EntityType)
	if !ok {
		op.Status = operation.StatusFailed
		op.ErrorMessage = fmt.Sprintf("no adapter for %q", op.EntityType)
		if uerr := e.log.Update(ctx, op); uerr != nil {
			return false, uerr
		}
		e.cntFailed.Add(ctx, 1)
		return false, fmt.Errorf("syncengine: %s", op.ErrorMessage)
	}

	op.Status = operation.StatusSyncing
	// Best-effort: tolerates an engine crash between this update and the
	// adapter outcome, per §7 — the storage backend returns it to the
	// pending set (MemoryStore.Initialize normalizes it; SQLiteStore's
	// pending query includes Syncing operations).
	_ = e.log.Update(ctx, op)

	result, dispatchErr := dispatch(ctx, adapter, op)
	if dispatchErr != nil {
		result = remote.Failure(dispatchErr.Error(), true)
	}

	switch result.Kind {
	case remote.ResultSuccess:
		return e.handleSuccess(ctx, op, result)
	case remote.ResultConflict:
		return e.handleConflict(ctx, op, result)
	case remote.ResultFailure:
		return e.handleFailure(ctx, op, result)
	default:
		return false, fmt.Errorf("syncengine: adapter %q returned unknown result kind %q", op.EntityType, result.Kind)
	}
}

func dispatch(ctx context.Context, adapter remote.Adapter, op operation.Operation) (remote.SyncResult, error) {
	switch op.OpKind.Kind {
	case operation.KindCreate:
		return adapter.Create(ctx, op)
	case operation.KindUpdate:
		return adapter.Update(ctx, op)
	case operation.KindDelete:
		return adapter.Delete(ctx, op)
	default:
		return adapter.Custom(ctx, op)
	}
}

func (e *Engine) handleSuccess(ctx context.Context, op operation.Operation, result remote.SyncResult) (bool, error) {
	if result.ResolvedPayload != nil {
		if err := e.store.SaveEntity(ctx, op.EntityType, op.EntityID, result.ResolvedPayload); err != nil {
			return false, fmt.Errorf("saving resolved payload for %s: %w", op.ID, err)
		}
	}
	if err := e.log.Remove(ctx, op.ID); err != nil {
		return false, fmt.Errorf("removing synced operation %s: %w", op.ID, err)
	}
	e.cntSynced.Add(ctx, 1)
	return true, nil
}

func (e *Engine) handleFailure(ctx context.Context, op operation.Operation, result remote.SyncResult) (bool, error) {
	if result.Retryable && op.RetryCount < e.cfg.MaxRetries {
		op.Status = operation.StatusPending
		op.RetryCount++
		op.ErrorMessage = result.Message
		if err := e.log.Update(ctx, op); err != nil {
			return false, fmt.Errorf("requeuing operation %s: %w", op.ID, err)
		}
		e.cntRetried.Add(ctx, 1)
		return true, nil
	}

	op.Status = operation.StatusFailed
	op.ErrorMessage = result.Message
	if err := e.log.Update(ctx, op); err != nil {
		return false, fmt.Errorf("marking operation %s failed: %w", op.ID, err)
	}
	e.cntFailed.Add(ctx, 1)
	return false, fmt.Errorf("syncengine: operation %s failed: %s", op.ID, result.Message)
}

func (e *Engine) handleConflict(ctx context.Context, op operation.Operation, result remote.SyncResult) (bool, error) {
	local, found, err := e.store.GetEntity(ctx, op.EntityType, op.EntityID)
	if err != nil {
		return false, fmt.Errorf("reading local entity for conflict on %s: %w", op.ID, err)
	}
	if !found {
		// Local has forgotten the entity; a benign success.
		if err := e.log.Remove(ctx, op.ID); err != nil {
			return false, fmt.Errorf("removing operation %s after entity-absent conflict: %w", op.ID, err)
		}
		e.cntSynced.Add(ctx, 1)
		return true, nil
	}

	resolver, ok := e.resolvers[op.EntityType]
	if !ok {
		op.Status = operation.StatusFailed
		op.ErrorMessage = "conflict without resolver"
		if uerr := e.log.Update(ctx, op); uerr != nil {
			return false, uerr
		}
		e.cntFailed.Add(ctx, 1)
		return false, fmt.Errorf("syncengine: operation %s: conflict without resolver", op.ID)
	}

	serverTimestamp := e.cfg.Clock()
	if result.ServerTimestamp != nil {
		serverTimestamp = *result.ServerTimestamp
	}
	remoteState := resolve.RemoteState{Data: result.ConflictData, Timestamp: serverTimestamp}
	localState := resolve.LocalState{Data: local, Timestamp: op.Timestamp}

	pendingForEntity, err := e.log.ForEntity(ctx, op.EntityType, op.EntityID)
	if err != nil {
		return false, fmt.Errorf("loading pending operations for %s: %w", op.ID, err)
	}

	resolution, resolveErr := resolver.Resolve(ctx, localState, remoteState, pendingForEntity)
	if resolveErr != nil {
		op.Status = operation.StatusFailed
		op.ErrorMessage = resolveErr.Error()
		if uerr := e.log.Update(ctx, op); uerr != nil {
			return false, uerr
		}
		e.cntFailed.Add(ctx, 1)
		return false, fmt.Errorf("syncengine: resolver error for %s: %w", op.ID, resolveErr)
	}

	e.cntConflict.Add(ctx, 1)

	switch resolution.Kind {
	case resolve.KindUseLocal:
		op.Status = operation.StatusPending
		op.RetryCount++
		if err := e.log.Update(ctx, op); err != nil {
			return false, fmt.Errorf("requeuing operation %s after UseLocal: %w", op.ID, err)
		}
		return true, nil

	case resolve.KindUseRemote:
		if err := e.store.SaveEntity(ctx, op.EntityType, op.EntityID, resolution.Data); err != nil {
			return false, fmt.Errorf("saving remote entity for %s: %w", op.ID, err)
		}
		if err := e.log.Remove(ctx, op.ID); err != nil {
			return false, fmt.Errorf("removing operation %s after UseRemote: %w", op.ID, err)
		}
		return true, nil

	case resolve.KindMerge:
		if err := e.store.SaveEntity(ctx, op.EntityType, op.EntityID, resolution.Data); err != nil {
			return false, fmt.Errorf("saving merged entity for %s: %w", op.ID, err)
		}
		op.Payload = resolution.Data
		op.Status = operation.StatusPending
		if err := e.log.Update(ctx, op); err != nil {
			return false, fmt.Errorf("updating operation %s after Merge: %w", op.ID, err)
		}
		return true, nil

	case resolve.KindManual:
		op.Status = operation.StatusFailed
		op.ErrorMessage = "manual conflict resolution required"
		if err := e.log.Update(ctx, op); err != nil {
			return false, fmt.Errorf("marking operation %s failed after Manual: %w", op.ID, err)
		}
		e.cntFailed.Add(ctx, 1)
		return false, fmt.Errorf("syncengine: operation %s: manual conflict resolution required", op.ID)

	default:
		return false, fmt.Errorf("syncengine: resolver for %s returned unknown resolution kind %q", op.ID, resolution.Kind)
	}
}

func sortByTimestampStable(ops []operation.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Timestamp < ops[j].Timestamp
	})
}
