package remote

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"github.com/opsync/opsync/operation"
)

// WithRetry wraps an Adapter so that Create/Update/Delete/Custom calls which
// come back as a retryable Failure (or return a transport error) are retried
// locally, with exponential backoff, before the engine ever sees them. This
// is distinct from the engine's own retry discipline (§4.3), which requeues
// an operation for the next Sync call — WithRetry absorbs transient blips
// within a single dispatch so they don't consume retry_count budget.
//
// A Conflict or a non-retryable Failure is returned immediately without
// retrying.
func WithRetry(a Adapter, maxAttempts uint) Adapter {
	return &retryingAdapter{inner: a, maxAttempts: maxAttempts}
}

type retryingAdapter struct {
	inner       Adapter
	maxAttempts uint
}

func (r *retryingAdapter) EntityType() string { return r.inner.EntityType() }

func (r *retryingAdapter) Create(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return r.dispatch(ctx, op, r.inner.Create)
}

func (r *retryingAdapter) Update(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return r.dispatch(ctx, op, r.inner.Update)
}

func (r *retryingAdapter) Delete(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return r.dispatch(ctx, op, r.inner.Delete)
}

func (r *retryingAdapter) Custom(ctx context.Context, op operation.Operation) (SyncResult, error) {
	return r.dispatch(ctx, op, r.inner.Custom)
}

func (r *retryingAdapter) FetchRemoteState(ctx context.Context, entityID string) (operation.Payload, bool, error) {
	return r.inner.FetchRemoteState(ctx, entityID)
}

func (r *retryingAdapter) SyncBatch(ctx context.Context, ops []operation.Operation) ([]SyncResult, error) {
	return SyncBatchSerial(ctx, ops, func(ctx context.Context, op operation.Operation) (SyncResult, error) {
		kind := op.OpKind.Kind
		switch kind {
		case operation.KindCreate:
			return r.Create(ctx, op)
		case operation.KindUpdate:
			return r.Update(ctx, op)
		case operation.KindDelete:
			return r.Delete(ctx, op)
		default:
			return r.Custom(ctx, op)
		}
	})
}

// errNonRetryable wraps a non-retryable outcome so backoff.Retry stops
// immediately instead of exhausting maxAttempts on a Conflict or a fatal
// Failure.
type errNonRetryable struct {
	result SyncResult
}

func (e *errNonRetryable) Error() string { return e.result.Message }

func (r *retryingAdapter) dispatch(ctx context.Context, op operation.Operation, call func(context.Context, operation.Operation) (SyncResult, error)) (SyncResult, error) {
	result, err := backoff.Retry(ctx, func() (SyncResult, error) {
		res, callErr := call(ctx, op)
		if callErr != nil {
			return SyncResult{}, callErr
		}
		if res.Kind == ResultFailure && res.Retryable {
			return SyncResult{}, errors.New(res.Message)
		}
		if res.Kind == ResultFailure || res.Kind == ResultConflict {
			return SyncResult{}, backoff.Permanent(&errNonRetryable{result: res})
		}
		return res, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.maxAttempts))

	if err != nil {
		var nonRetryable *errNonRetryable
		if ok := errors.As(err, &nonRetryable); ok {
			return nonRetryable.result, nil
		}
		return Failure(err.Error(), true), nil
	}
	return result, nil
}
