package resolve

import (
	"context"
	"reflect"

	"github.com/opsync/opsync/operation"
)

// FieldLevelMerge combines non-conflicting field writes and escalates to
// Manual when the same field was written differently on both sides.
type FieldLevelMerge struct{}

var _ ConflictResolver = FieldLevelMerge{}

func (FieldLevelMerge) Resolve(_ context.Context, local LocalState, remote RemoteState, pending []operation.Operation) (Resolution, error) {
	written := writtenFields(pending)

	merged := remote.Data.Clone()
	if merged == nil {
		merged = operation.Payload{}
	}

	conflict := false
	for k := range written {
		remoteVal, remoteHas := remote.Data[k]
		if !remoteHas {
			if localVal, ok := local.Data[k]; ok {
				merged[k] = localVal
			}
			continue
		}
		if equalValue(local.Data[k], remoteVal) {
			// Already agrees with remote; no-op.
			continue
		}
		conflict = true
	}

	if conflict {
		return Manual(), nil
	}
	return Merge(merged), nil
}

// writtenFields returns the union of payload keys across every Create/Update
// operation in pending.
func writtenFields(pending []operation.Operation) map[string]struct{} {
	fields := make(map[string]struct{})
	for _, op := range pending {
		if op.OpKind.Kind != operation.KindCreate && op.OpKind.Kind != operation.KindUpdate {
			continue
		}
		for k := range op.Payload {
			fields[k] = struct{}{}
		}
	}
	return fields
}

func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
