package address

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(dbm.NewMemDB())
	owner := types.Address{1}
	m := New(owner, st, nil, nil)
	return m, st
}

func ownedInput(id byte, version types.Version) types.Input {
	var oid types.ObjectId
	oid[0] = id
	return types.Input{Tag: types.InputOwnedMoveObject, Owned: types.ObjectRef{ID: oid, Version: version}}
}

func TestLockPending_ThenCanLockRejectsConflictingTx(t *testing.T) {
	m, _ := newTestManager(t)

	t1 := &types.Transaction{Sender: types.Address{1}, Inputs: []types.Input{ownedInput(5, 1)}}
	if err := m.LockPending(t1); err != nil {
		t.Fatalf("LockPending: %v", err)
	}

	t2 := &types.Transaction{Sender: types.Address{1}, Inputs: []types.Input{ownedInput(5, 1)}, CallData: []byte("different")}
	if err := m.CanLock(t2); err == nil {
		t.Fatal("expected CanLock to reject a conflicting transaction over the same input")
	}
}

func TestLockPending_SameTxIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	t1 := &types.Transaction{Sender: types.Address{1}, Inputs: []types.Input{ownedInput(5, 1)}}
	if err := m.LockPending(t1); err != nil {
		t.Fatalf("LockPending: %v", err)
	}
	if err := m.CanLock(t1); err != nil {
		t.Fatalf("CanLock should accept re-locking the same transaction: %v", err)
	}
}

func TestUnlockPending_ReleasesLock(t *testing.T) {
	m, _ := newTestManager(t)

	t1 := &types.Transaction{Sender: types.Address{1}, Inputs: []types.Input{ownedInput(5, 1)}}
	if err := m.LockPending(t1); err != nil {
		t.Fatalf("LockPending: %v", err)
	}
	if err := m.UnlockPending(t1); err != nil {
		t.Fatalf("UnlockPending: %v", err)
	}

	t2 := &types.Transaction{Sender: types.Address{1}, Inputs: []types.Input{ownedInput(5, 1)}, CallData: []byte("different")}
	if err := m.CanLock(t2); err != nil {
		t.Fatalf("expected input to be lockable after unlock: %v", err)
	}
}

func TestApplyEffects_OwnedRefsUpdated(t *testing.T) {
	m, st := newTestManager(t)
	owner := types.Address{1}

	var oid types.ObjectId
	oid[0] = 7
	newRef := types.ObjectRef{ID: oid, Version: 2, Digest: types.Digest{1, 2, 3}}

	cert := &types.CertifiedTx{Transaction: types.Transaction{Sender: owner}}
	effects := &types.TransactionEffects{
		Status: types.EffectsStatus{Success: true},
		Created: []types.CreatedOrMutated{
			{Ref: newRef, Owner: types.Owner{Kind: types.OwnerAddress, Address: owner}},
		},
	}

	toDownload, err := m.ApplyEffects(cert, effects)
	if err != nil {
		t.Fatalf("ApplyEffects: %v", err)
	}
	if len(toDownload) != 1 || toDownload[0] != newRef {
		t.Fatalf("expected the new ref queued for download, got %v", toDownload)
	}

	stored, ok, err := st.GetObjectRef(oid)
	if err != nil || !ok {
		t.Fatalf("expected object ref persisted, ok=%v err=%v", ok, err)
	}
	if stored != newRef {
		t.Fatalf("stored ref mismatch: got %+v want %+v", stored, newRef)
	}
}

func TestApplyEffects_ForeignOwnerDropsRef(t *testing.T) {
	m, st := newTestManager(t)
	owner := types.Address{1}
	other := types.Address{2}

	var oid types.ObjectId
	oid[0] = 8
	ref := types.ObjectRef{ID: oid, Version: 1}

	// Seed a pre-existing ref we own, then apply effects transferring it
	// away.
	seedBatch := st.NewBatch().PutObjectRef(oid, ref)
	if err := seedBatch.Write(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cert := &types.CertifiedTx{Transaction: types.Transaction{Sender: owner}}
	effects := &types.TransactionEffects{
		Mutated: []types.CreatedOrMutated{
			{Ref: ref, Owner: types.Owner{Kind: types.OwnerAddress, Address: other}},
		},
	}

	if _, err := m.ApplyEffects(cert, effects); err != nil {
		t.Fatalf("ApplyEffects: %v", err)
	}

	_, ok, err := st.GetObjectRef(oid)
	if err != nil {
		t.Fatalf("GetObjectRef: %v", err)
	}
	if ok {
		t.Fatal("expected ref transferred to another owner to be dropped locally")
	}
}

func TestRetryPending_InvokesRetryOncePerDistinctTransaction(t *testing.T) {
	st := store.New(dbm.NewMemDB())
	owner := types.Address{1}

	var calls []types.TxDigest
	retry := func(t *types.Transaction) error {
		calls = append(calls, t.Digest())
		return nil
	}
	m := New(owner, st, retry, nil)

	t1 := &types.Transaction{Sender: owner, Inputs: []types.Input{ownedInput(1, 1), ownedInput(2, 1)}}
	if err := m.LockPending(t1); err != nil {
		t.Fatalf("LockPending: %v", err)
	}

	if err := m.RetryPending(); err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly one retry call for one distinct transaction across two locked inputs, got %d", len(calls))
	}
}

func TestSyncWithAuthority_DropsStaleAndReportsMissing(t *testing.T) {
	m, st := newTestManager(t)

	var known, stale, missing types.ObjectId
	known[0], stale[0], missing[0] = 1, 2, 3

	batch := st.NewBatch().
		PutObjectRef(known, types.ObjectRef{ID: known, Version: 1}).
		PutObjectRef(stale, types.ObjectRef{ID: stale, Version: 1})
	if err := batch.Write(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	missingLocally, err := m.SyncWithAuthority([]types.ObjectId{known, missing})
	if err != nil {
		t.Fatalf("SyncWithAuthority: %v", err)
	}
	if len(missingLocally) != 1 || missingLocally[0] != missing {
		t.Fatalf("expected [missing] reported, got %v", missingLocally)
	}

	if _, ok, _ := st.GetObjectRef(stale); ok {
		t.Fatal("expected stale ref no longer attributed by the authority to be dropped")
	}
	if _, ok, _ := st.GetObjectRef(known); !ok {
		t.Fatal("expected known ref still attributed to remain")
	}
}
