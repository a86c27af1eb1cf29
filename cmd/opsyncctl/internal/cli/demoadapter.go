package cli

import (
	"context"
	"sync"

	"github.com/opsync/opsync/operation"
	"github.com/opsync/opsync/remote"
)

// demoWidgetAdapter is an in-process stand-in for a real remote transport.
// It accepts every create/update/delete for entity type "widget" and
// echoes the payload back as the resolved state, so opsyncctl can
// demonstrate a full sync() pass without a network dependency.
type demoWidgetAdapter struct {
	remote.Base

	mu   sync.Mutex
	seen map[string]operation.Payload // entity_id -> last payload accepted
}

func newDemoWidgetAdapter() *demoWidgetAdapter {
	return &demoWidgetAdapter{seen: make(map[string]operation.Payload)}
}

func (a *demoWidgetAdapter) EntityType() string { return "widget" }

func (a *demoWidgetAdapter) Create(_ context.Context, op operation.Operation) (remote.SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[op.EntityID] = op.Payload.Clone()
	return remote.Success(op.Payload.Clone()), nil
}

func (a *demoWidgetAdapter) Update(ctx context.Context, op operation.Operation) (remote.SyncResult, error) {
	return a.Create(ctx, op)
}

func (a *demoWidgetAdapter) Delete(_ context.Context, op operation.Operation) (remote.SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.seen, op.EntityID)
	return remote.Success(nil), nil
}

func (a *demoWidgetAdapter) FetchRemoteState(_ context.Context, entityID string) (operation.Payload, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.seen[entityID]
	return data, ok, nil
}

func (a *demoWidgetAdapter) SyncBatch(ctx context.Context, ops []operation.Operation) ([]remote.SyncResult, error) {
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
