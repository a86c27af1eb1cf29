// Package resolve provides the conflict resolver contract and the two
// resolvers the core mandates: last-write-wins and field-level merge.
package resolve

import (
	"context"

	"github.com/opsync/opsync/operation"
)

// LocalState is the local entity snapshot as of the pending operation's
// timestamp.
type LocalState struct {
	Data      operation.Payload
	Timestamp int64
}

// RemoteState is the remote entity snapshot as reported by the adapter,
// paired with the server's timestamp (or the resolution-time clock if the
// adapter didn't supply one).
type RemoteState struct {
	Data      operation.Payload
	Timestamp int64
}

// Kind tags the variant of a Resolution.
type Kind string

const (
	// KindUseLocal retries the pending operation; the entity is untouched.
	KindUseLocal Kind = "use_local"
	// KindUseRemote overwrites the entity with Data and drops the operation.
	KindUseRemote Kind = "use_remote"
	// KindMerge overwrites the entity with Data, rewrites the operation's
	// payload to Data, and requeues it as Pending.
	KindMerge Kind = "merge"
	// KindManual marks the operation Failed; it needs a human.
	KindManual Kind = "manual"
)

// Resolution is the tagged outcome of a conflict resolver's decision.
type Resolution struct {
	Kind Kind
	Data operation.Payload
}

func UseLocal() Resolution                   { return Resolution{Kind: KindUseLocal} }
func UseRemote(data operation.Payload) Resolution { return Resolution{Kind: KindUseRemote, Data: data} }
func Merge(data operation.Payload) Resolution     { return Resolution{Kind: KindMerge, Data: data} }
func Manual() Resolution                     { return Resolution{Kind: KindManual} }

// ConflictResolver decides, given local state, remote state, and the
// operations still pending for the entity, how to reconcile a conflict
// reported by a remote adapter. Implementations may block for I/O.
type ConflictResolver interface {
	Resolve(ctx context.Context, local LocalState, remote RemoteState, pending []operation.Operation) (Resolution, error)
}
