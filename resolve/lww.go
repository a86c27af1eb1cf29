package resolve

import (
	"context"

	"github.com/opsync/opsync/operation"
)

// LastWriteWins prefers whichever side carries the higher timestamp. Ties
// favour the local side, since the local write is the one the user is
// actively waiting to see land.
type LastWriteWins struct{}

var _ ConflictResolver = LastWriteWins{}

func (LastWriteWins) Resolve(_ context.Context, local LocalState, remote RemoteState, _ []operation.Operation) (Resolution, error) {
	if local.Timestamp > remote.Timestamp {
		return UseLocal(), nil
	}
	if remote.Timestamp > local.Timestamp {
		return UseRemote(remote.Data), nil
	}
	return UseLocal(), nil
}
