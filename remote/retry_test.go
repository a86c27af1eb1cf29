package remote

import (
	"context"
	"testing"

	"github.com/opsync/opsync/operation"
)

type flakyAdapter struct {
	Base
	failuresBeforeSuccess int
	calls                 int
	permanent             bool
}

func (f *flakyAdapter) EntityType() string { return "widget" }

func (f *flakyAdapter) Create(_ context.Context, _ operation.Operation) (SyncResult, error) {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return Failure("transient glitch", true), nil
	}
	if f.permanent {
		return Failure("fatal", false), nil
	}
	return Success(operation.Payload{"ok": true}), nil
}

func (f *flakyAdapter) Update(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return f.Create(ctx, op)
}

func (f *flakyAdapter) Delete(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return f.Create(ctx, op)
}

func (f *flakyAdapter) FetchRemoteState(_ context.Context, _ string) (operation.Payload, bool, error) {
	return nil, false, nil
}

func (f *flakyAdapter) SyncBatch(ctx context.Context, ops []operation.Operation) ([]SyncResult, error) {
	return SyncBatchSerial(ctx, ops, f.Create)
}

func TestWithRetry_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyAdapter{failuresBeforeSuccess: 2}
	adapter := WithRetry(inner, 5)

	res, err := adapter.Create(context.Background(), operation.Operation{ID: "op-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want Success", res)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyAdapter{failuresBeforeSuccess: 100}
	adapter := WithRetry(inner, 3)

	res, err := adapter.Create(context.Background(), operation.Operation{ID: "op-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != ResultFailure {
		t.Fatalf("result = %+v, want Failure after exhausting attempts", res)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetry_DoesNotRetryNonRetryableFailure(t *testing.T) {
	inner := &flakyAdapter{failuresBeforeSuccess: 1, permanent: true}
	adapter := WithRetry(inner, 5)

	res, err := adapter.Create(context.Background(), operation.Operation{ID: "op-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != ResultFailure || res.Retryable {
		t.Fatalf("result = %+v, want non-retryable Failure", res)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2 (1 retryable then 1 fatal)", inner.calls)
	}
}
