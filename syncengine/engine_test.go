package syncengine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/opsync/opsync/operation"
	"github.com/opsync/opsync/remote"
	"github.com/opsync/opsync/resolve"
	"github.com/opsync/opsync/storage"
)

type recordingAdapter struct {
	remote.Base
	entityType string
	creates    []operation.Operation
	nextResult func(operation.Operation) (remote.SyncResult, error)
}

func (a *recordingAdapter) EntityType() string { return a.entityType }

func (a *recordingAdapter) Create(_ context.Context, op operation.Operation) (remote.SyncResult, error) {
	a.creates = append(a.creates, op)
	return a.nextResult(op)
}
func (a *recordingAdapter) Update(_ context.Context, op operation.Operation) (remote.SyncResult, error) {
	return a.nextResult(op)
}
func (a *recordingAdapter) Delete(_ context.Context, op operation.Operation) (remote.SyncResult, error) {
	return a.nextResult(op)
}
func (a *recordingAdapter) FetchRemoteState(context.Context, string) (operation.Payload, bool, error) {
	return nil, false, nil
}
func (a *recordingAdapter) SyncBatch(ctx context.Context, ops []operation.Operation) ([]remote.SyncResult, error) {
	return remote.SyncBatchSerial(ctx, ops, func(ctx context.Context, op operation.Operation) (remote.SyncResult, error) {
		switch op.OpKind.Kind {
		case operation.KindCreate:
			return a.Create(ctx, op)
		case operation.KindUpdate:
			return a.Update(ctx, op)
		case operation.KindDelete:
			return a.Delete(ctx, op)
		default:
			return a.Custom(ctx, op)
		}
	})
}

func noopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestEngine_S1_CreateThenUpdateReducesToSingleCreate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op1", EntityType: "product", EntityID: "p1", OpKind: operation.Create(),
		Payload: operation.Payload{"name": "A", "price": 10.0}, Timestamp: 1000,
		Status: operation.StatusPending, DeviceID: "d1",
	})
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op2", EntityType: "product", EntityID: "p1", OpKind: operation.Update(),
		Payload: operation.Payload{"name": "B"}, Timestamp: 2000,
		Status: operation.StatusPending, DeviceID: "d1",
	})

	var received []operation.Operation
	adapter := &recordingAdapter{entityType: "product"}
	adapter.nextResult = func(op operation.Operation) (remote.SyncResult, error) {
		received = append(received, op)
		return remote.Success(nil), nil
	}
	reg := remote.NewRegistry()
	reg.Register(adapter)

	e := New(store, reg, nil, Config{MaxRetries: 3, Reduce: true}, noopLogger())
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("adapter received %d calls, want exactly 1", len(received))
	}
	got := received[0]
	if got.OpKind.Kind != operation.KindCreate {
		t.Errorf("kind = %v, want Create", got.OpKind.Kind)
	}
	if got.Payload["name"] != "B" || got.Payload["price"] != 10.0 {
		t.Errorf("payload = %v, want name=B price=10.0", got.Payload)
	}
	if got.Timestamp != 2000 {
		t.Errorf("timestamp = %d, want 2000", got.Timestamp)
	}

	count, _ := store.GetPendingOperationsCount(ctx)
	if count != 0 {
		t.Errorf("pending count = %d, want 0", count)
	}
}

func TestEngine_S2_CreateThenDeleteCancels(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op1", EntityType: "product", EntityID: "p1", OpKind: operation.Create(),
		Payload: operation.Payload{"name": "A"}, Timestamp: 1000, Status: operation.StatusPending,
	})
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op2", EntityType: "product", EntityID: "p1", OpKind: operation.Delete(),
		Payload: operation.Payload{}, Timestamp: 2000, Status: operation.StatusPending,
	})

	calls := 0
	adapter := &recordingAdapter{entityType: "product"}
	adapter.nextResult = func(op operation.Operation) (remote.SyncResult, error) {
		calls++
		return remote.Success(nil), nil
	}
	reg := remote.NewRegistry()
	reg.Register(adapter)

	e := New(store, reg, nil, Config{MaxRetries: 3, Reduce: true}, noopLogger())
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if calls != 0 {
		t.Errorf("adapter called %d times, want 0", calls)
	}
	count, _ := store.GetPendingOperationsCount(ctx)
	if count != 0 {
		t.Errorf("pending count = %d, want 0", count)
	}
	if _, found, _ := store.GetEntity(ctx, "product", "p1"); found {
		t.Error("entity should be absent from storage")
	}
}

func TestEngine_S5_RetryableFailureWithMaxRetries3(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op1", EntityType: "product", EntityID: "p1", OpKind: operation.Update(),
		Payload: operation.Payload{"x": 1}, Timestamp: 1000, Status: operation.StatusPending,
	})

	adapter := &recordingAdapter{entityType: "product"}
	adapter.nextResult = func(op operation.Operation) (remote.SyncResult, error) {
		return remote.Failure("unavailable", true), nil
	}
	reg := remote.NewRegistry()
	reg.Register(adapter)

	e := New(store, reg, nil, Config{MaxRetries: 3}, noopLogger())

	for i := 1; i <= 3; i++ {
		if err := e.Sync(ctx); err != nil {
			t.Fatalf("Sync #%d: %v", i, err)
		}
		op, found, err := store.GetOperation(ctx, "op1")
		if err != nil || !found {
			t.Fatalf("GetOperation after sync #%d: found=%v err=%v", i, found, err)
		}
		if op.RetryCount != i {
			t.Errorf("after sync #%d: retry_count = %d, want %d", i, op.RetryCount, i)
		}
		if op.Status != operation.StatusPending {
			t.Errorf("after sync #%d: status = %v, want Pending", i, op.Status)
		}
	}

	// Fourth invocation: retry_count (3) is no longer < max_retries (3).
	if err := e.Sync(ctx); err == nil {
		t.Fatal("expected Sync to report an error on the terminal failure")
	}
	op, found, err := store.GetOperation(ctx, "op1")
	if err != nil || !found {
		t.Fatalf("GetOperation after 4th sync: found=%v err=%v", found, err)
	}
	if op.Status != operation.StatusFailed {
		t.Errorf("status = %v, want Failed", op.Status)
	}
	if op.RetryCount != 3 {
		t.Errorf("retry_count = %d, want unchanged at 3", op.RetryCount)
	}
}

func TestEngine_S6_ResolvedPayloadOverwritesLocal(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.SaveEntity(ctx, "product", "p1", operation.Payload{"id": "p1", "name": "A", "version": 0})
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op1", EntityType: "product", EntityID: "p1", OpKind: operation.Update(),
		Payload: operation.Payload{"name": "A"}, Timestamp: 1000, Status: operation.StatusPending,
	})

	resolved := operation.Payload{"id": "p1", "name": "A", "version": 1, "updated_at": "now"}
	adapter := &recordingAdapter{entityType: "product"}
	adapter.nextResult = func(op operation.Operation) (remote.SyncResult, error) {
		return remote.Success(resolved), nil
	}
	reg := remote.NewRegistry()
	reg.Register(adapter)

	e := New(store, reg, nil, Config{MaxRetries: 3}, noopLogger())
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, found, err := store.GetEntity(ctx, "product", "p1")
	if err != nil || !found {
		t.Fatalf("GetEntity: found=%v err=%v", found, err)
	}
	if got["version"] != 1 || got["updated_at"] != "now" {
		t.Errorf("entity = %v, want exactly the resolved payload", got)
	}
	count, _ := store.GetPendingOperationsCount(ctx)
	if count != 0 {
		t.Errorf("pending count = %d, want 0", count)
	}
}

func TestEngine_Sync_AlreadySyncingSignalled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	e := New(store, remote.NewRegistry(), nil, Config{MaxRetries: 3}, noopLogger())

	e.syncing.Store(true)
	defer e.syncing.Store(false)

	err := e.Sync(ctx)
	if err != ErrAlreadySyncing {
		t.Fatalf("err = %v, want ErrAlreadySyncing", err)
	}
}

func TestEngine_Sync_EmptyPendingSetGoesIdle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	e := New(store, remote.NewRegistry(), nil, Config{MaxRetries: 3}, noopLogger())

	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := e.Status().Status; got != StatusIdle {
		t.Errorf("final status = %v, want Idle", got)
	}
}

func TestEngine_Conflict_LastWriteWinsRemoteNewer(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.SaveEntity(ctx, "product", "p1", operation.Payload{"name": "Local"})
	_ = store.AddOperation(ctx, operation.Operation{
		ID: "op1", EntityType: "product", EntityID: "p1", OpKind: operation.Update(),
		Payload: operation.Payload{"name": "Local"}, Timestamp: 1000, Status: operation.StatusPending,
	})

	adapter := &recordingAdapter{entityType: "product"}
	adapter.nextResult = func(op operation.Operation) (remote.SyncResult, error) {
		return remote.Conflict(operation.Payload{"name": "Remote"}), nil
	}
	reg := remote.NewRegistry()
	reg.Register(adapter)

	resolvers := map[string]resolve.ConflictResolver{"product": resolve.LastWriteWins{}}
	e := New(store, reg, resolvers, Config{MaxRetries: 3, Clock: func() int64 { return 2000 }}, noopLogger())

	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, found, err := store.GetEntity(ctx, "product", "p1")
	if err != nil || !found || got["name"] != "Remote" {
		t.Fatalf("entity = %v found=%v, want name=Remote", got, found)
	}
	if _, found, _ := store.GetOperation(ctx, "op1"); found {
		t.Error("operation should have been removed after UseRemote")
	}
}
