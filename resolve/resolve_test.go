package resolve

import (
	"context"
	"testing"

	"github.com/opsync/opsync/operation"
)

func TestLastWriteWins_RemoteNewer(t *testing.T) {
	local := LocalState{Data: operation.Payload{"name": "Local"}, Timestamp: 1000}
	remote := RemoteState{Data: operation.Payload{"name": "Remote"}, Timestamp: 2000}

	res, err := LastWriteWins{}.Resolve(context.Background(), local, remote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindUseRemote {
		t.Fatalf("Kind = %v, want UseRemote", res.Kind)
	}
	if res.Data["name"] != "Remote" {
		t.Errorf("Data[name] = %v, want Remote", res.Data["name"])
	}
}

func TestLastWriteWins_LocalNewer(t *testing.T) {
	local := LocalState{Data: operation.Payload{"name": "Local"}, Timestamp: 3000}
	remote := RemoteState{Data: operation.Payload{"name": "Remote"}, Timestamp: 2000}

	res, err := LastWriteWins{}.Resolve(context.Background(), local, remote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindUseLocal {
		t.Fatalf("Kind = %v, want UseLocal", res.Kind)
	}
}

func TestLastWriteWins_Tie_FavoursLocal(t *testing.T) {
	local := LocalState{Timestamp: 2000}
	remote := RemoteState{Timestamp: 2000}

	res, err := LastWriteWins{}.Resolve(context.Background(), local, remote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindUseLocal {
		t.Fatalf("Kind = %v, want UseLocal on tie", res.Kind)
	}
}

func TestFieldLevelMerge_DisjointWrites_Succeed(t *testing.T) {
	pending := []operation.Operation{
		{OpKind: operation.Update(), Payload: operation.Payload{"price": 10.0}},
	}
	local := LocalState{Data: operation.Payload{"name": "Local", "price": 10.0}, Timestamp: 1000}
	remote := RemoteState{Data: operation.Payload{"name": "Remote", "stock": 100}, Timestamp: 2000}

	res, err := FieldLevelMerge{}.Resolve(context.Background(), local, remote, pending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindMerge {
		t.Fatalf("Kind = %v, want Merge", res.Kind)
	}
	want := operation.Payload{"name": "Remote", "price": 10.0, "stock": 100}
	for k, v := range want {
		if res.Data[k] != v {
			t.Errorf("Data[%s] = %v, want %v", k, res.Data[k], v)
		}
	}
}

func TestFieldLevelMerge_ConflictingWrite_IsManual(t *testing.T) {
	pending := []operation.Operation{
		{OpKind: operation.Update(), Payload: operation.Payload{"name": "LocalEdit"}},
	}
	local := LocalState{Data: operation.Payload{"name": "LocalEdit"}, Timestamp: 1000}
	remote := RemoteState{Data: operation.Payload{"name": "RemoteEdit"}, Timestamp: 2000}

	res, err := FieldLevelMerge{}.Resolve(context.Background(), local, remote, pending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindManual {
		t.Fatalf("Kind = %v, want Manual", res.Kind)
	}
}

func TestFieldLevelMerge_NoWrittenFields_NoConflict(t *testing.T) {
	local := LocalState{Data: operation.Payload{"name": "Local"}, Timestamp: 1000}
	remote := RemoteState{Data: operation.Payload{"name": "Remote"}, Timestamp: 2000}

	res, err := FieldLevelMerge{}.Resolve(context.Background(), local, remote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindMerge {
		t.Fatalf("Kind = %v, want Merge", res.Kind)
	}
	if res.Data["name"] != "Remote" {
		t.Errorf("Data[name] = %v, want Remote (untouched field keeps remote value)", res.Data["name"])
	}
}
