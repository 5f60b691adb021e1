package store

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbm.NewMemDB()
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestGetObjectRefMissing(t *testing.T) {
	s := newTestStore(t)
	var id types.ObjectId
	id[0] = 1

	_, ok, err := s.GetObjectRef(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing ref")
	}
}

func TestBatchAtomicWrite(t *testing.T) {
	s := newTestStore(t)
	var id types.ObjectId
	id[0] = 7
	ref := types.ObjectRef{ID: id, Version: 1}

	tx := &types.Transaction{Sender: types.Address{1}}

	err := s.NewBatch().
		PutObjectRef(id, ref).
		PutPending(id, tx).
		Write()
	if err != nil {
		t.Fatalf("batch write failed: %v", err)
	}

	got, ok, err := s.GetObjectRef(id)
	if err != nil || !ok {
		t.Fatalf("expected object ref to be present, err=%v ok=%v", err, ok)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}

	pending, ok, err := s.GetPending(id)
	if err != nil || !ok {
		t.Fatalf("expected pending entry, err=%v ok=%v", err, ok)
	}
	if pending.Sender != tx.Sender {
		t.Errorf("pending sender mismatch")
	}
}

func TestDeletePending(t *testing.T) {
	s := newTestStore(t)
	var id types.ObjectId
	id[0] = 3
	tx := &types.Transaction{}

	if err := s.NewBatch().PutPending(id, tx).Write(); err != nil {
		t.Fatalf("put pending failed: %v", err)
	}
	if err := s.NewBatch().DeletePending(id).Write(); err != nil {
		t.Fatalf("delete pending failed: %v", err)
	}

	_, ok, err := s.GetPending(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected pending entry to be gone")
	}
}

func TestIterateObjectRefsKeyOrdered(t *testing.T) {
	s := newTestStore(t)
	ids := []byte{3, 1, 2}
	for _, b := range ids {
		var id types.ObjectId
		id[0] = b
		if err := s.NewBatch().PutObjectRef(id, types.ObjectRef{ID: id}).Write(); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	var seen []byte
	err := s.IterateObjectRefs(func(id types.ObjectId, _ types.ObjectRef) bool {
		seen = append(seen, id[0])
		return true
	})
	if err != nil {
		t.Fatalf("iterate failed: %v", err)
	}
	want := []byte{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("got %d entries, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}
