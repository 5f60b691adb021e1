package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/committee"
	"github.com/vaultbft/client/internal/cryptoutil"
	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
	"github.com/vaultbft/client/pkg/address"
	"github.com/vaultbft/client/pkg/authority"
	"github.com/vaultbft/client/pkg/broadcast"
	"github.com/vaultbft/client/pkg/certrequester"
	"github.com/vaultbft/client/pkg/download"
	"github.com/vaultbft/client/pkg/store"
	"github.com/vaultbft/client/pkg/syncer"
)

// obedientAuthority signs whatever vote it is asked for and always
// confirms, returning success effects that transfer nothing.
type obedientAuthority struct {
	name types.AuthorityName
	priv ed25519.PrivateKey
}

func (a *obedientAuthority) Name() types.AuthorityName { return a.name }
func (a *obedientAuthority) HandleTransaction(ctx context.Context, t *types.Transaction) (*types.OrderInfoResponse, error) {
	digest := t.Digest()
	return &types.OrderInfoResponse{SignedVote: &types.SignedVote{
		Authority: a.name,
		Signature: cryptoutil.SignVote(a.priv, digest),
	}}, nil
}
func (a *obedientAuthority) HandleConfirmationOrder(ctx context.Context, cert *types.CertifiedTx) (*types.OrderInfoResponse, error) {
	return &types.OrderInfoResponse{SignedEffects: &types.TransactionEffects{
		Status: types.EffectsStatus{Success: true},
	}}, nil
}
func (a *obedientAuthority) HandleObjectInfoRequest(context.Context, authority.ObjectInfoRequest) (*types.ObjectInfoResponse, error) {
	return &types.ObjectInfoResponse{}, nil
}
func (a *obedientAuthority) HandleAccountInfoRequest(context.Context, types.Address) (*types.AccountInfoResponse, error) {
	return &types.AccountInfoResponse{}, nil
}

// staleSequenceAuthority always rejects votes with a structured
// UnexpectedSequenceNumber, modeling every authority in the committee
// having already moved past the version this transaction names.
type staleSequenceAuthority struct {
	name     types.AuthorityName
	objectID types.ObjectId
	expected types.Version
}

func (a *staleSequenceAuthority) Name() types.AuthorityName { return a.name }
func (a *staleSequenceAuthority) HandleTransaction(context.Context, *types.Transaction) (*types.OrderInfoResponse, error) {
	return nil, &authority.RemoteError{Kind: errs.UnexpectedSequenceNumber, ObjectID: a.objectID, Expected: a.expected}
}
func (a *staleSequenceAuthority) HandleConfirmationOrder(context.Context, *types.CertifiedTx) (*types.OrderInfoResponse, error) {
	return nil, errors.New("not implemented")
}
func (a *staleSequenceAuthority) HandleObjectInfoRequest(context.Context, authority.ObjectInfoRequest) (*types.ObjectInfoResponse, error) {
	return &types.ObjectInfoResponse{}, nil
}
func (a *staleSequenceAuthority) HandleAccountInfoRequest(context.Context, types.Address) (*types.AccountInfoResponse, error) {
	return &types.AccountInfoResponse{}, nil
}

func newTestClient(t *testing.T) (*Client, types.Address) {
	t.Helper()

	pub1, priv1, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub2, priv2, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr1 := cryptoutil.DeriveAddress(pub1)
	addr2 := cryptoutil.DeriveAddress(pub2)

	c, err := committee.New(map[types.AuthorityName]uint64{addr1: 10, addr2: 10})
	if err != nil {
		t.Fatalf("committee.New: %v", err)
	}
	pubKeys := map[types.Address]ed25519.PublicKey{addr1: pub1, addr2: pub2}

	authorities := []authority.Client{
		&obedientAuthority{name: addr1, priv: priv1},
		&obedientAuthority{name: addr2, priv: priv2},
	}

	b, err := broadcast.New(c, broadcast.DefaultConfig())
	if err != nil {
		t.Fatalf("broadcast.New: %v", err)
	}
	cr := certrequester.New(c, pubKeys)
	byName := map[types.AuthorityName]authority.Client{addr1: authorities[0], addr2: authorities[1]}
	sy := syncer.New(c, pubKeys, byName, syncer.DefaultConfig())
	st := store.New(dbm.NewMemDB())
	dl := download.New(authorities, st, download.DefaultConfig())

	owner := types.Address{0x42}
	am := address.New(owner, st, func(*types.Transaction) error {
		return errors.New("retry not expected in this test")
	}, nil)

	cl := New(c, authorities, st, am, b, cr, sy, dl, nil)
	return cl, owner
}

func TestExecuteTransaction_ReachesDone(t *testing.T) {
	cl, owner := newTestClient(t)

	tx := &types.Transaction{Sender: owner}
	result, err := cl.ExecuteTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("ExecuteTransaction: %v", err)
	}
	if result.Certificate == nil {
		t.Fatal("expected a certificate")
	}
	if !result.Effects.Status.Success {
		t.Fatal("expected successful effects")
	}
	if len(result.Certificate.Votes) != 2 {
		t.Fatalf("expected 2 votes in the certificate, got %d", len(result.Certificate.Votes))
	}
}

func TestExecuteTransaction_LockConflictFailsWithoutBroadcast(t *testing.T) {
	cl, owner := newTestClient(t)

	var oid types.ObjectId
	oid[0] = 1
	input := types.Input{Tag: types.InputOwnedMoveObject, Owned: types.ObjectRef{ID: oid, Version: 1}}

	first := &types.Transaction{Sender: owner, Inputs: []types.Input{input}}
	if err := cl.addrManager.LockPending(first); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	conflicting := &types.Transaction{Sender: owner, Inputs: []types.Input{input}, CallData: []byte("other")}
	if _, err := cl.ExecuteTransaction(context.Background(), conflicting); err == nil {
		t.Fatal("expected ExecuteTransaction to fail on a conflicting lock")
	}
}

// TestExecuteTransaction_StaleInputVersionRejectedBeforeLock proves the
// §4.H step-1 precheck: a transaction naming an input version older than
// what the local store already knows is rejected with
// UnexpectedSequenceNumber before any lock is taken, so the lock table
// stays empty.
func TestExecuteTransaction_StaleInputVersionRejectedBeforeLock(t *testing.T) {
	cl, owner := newTestClient(t)

	var oid types.ObjectId
	oid[0] = 7
	known := types.ObjectRef{ID: oid, Version: 5}
	batch := cl.store.NewBatch()
	batch.PutObjectRef(oid, known)
	if err := batch.Write(); err != nil {
		t.Fatalf("seed object ref: %v", err)
	}

	stale := &types.Transaction{
		Sender: owner,
		Inputs: []types.Input{{Tag: types.InputOwnedMoveObject, Owned: types.ObjectRef{ID: oid, Version: 3}}},
	}

	if _, err := cl.ExecuteTransaction(context.Background(), stale); err == nil {
		t.Fatal("expected ExecuteTransaction to reject a stale input version")
	}

	if _, ok, err := cl.store.GetPending(oid); err != nil {
		t.Fatalf("GetPending: %v", err)
	} else if ok {
		t.Fatal("expected no lock to have been taken for a precheck failure")
	}
}

// TestExecuteTransaction_UnexpectedSequenceNumberReleasesLock proves
// Finding 2's fix: when every authority rejects a vote with a structured
// UnexpectedSequenceNumber, vote() must surface that real kind (not the
// generic AuthorityUpdateFailure) so fail()'s IsSideEffectFree check
// actually fires and the lock is released.
func TestExecuteTransaction_UnexpectedSequenceNumberReleasesLock(t *testing.T) {
	pub1, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub2, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr1 := cryptoutil.DeriveAddress(pub1)
	addr2 := cryptoutil.DeriveAddress(pub2)

	c, err := committee.New(map[types.AuthorityName]uint64{addr1: 10, addr2: 10})
	if err != nil {
		t.Fatalf("committee.New: %v", err)
	}
	pubKeys := map[types.Address]ed25519.PublicKey{addr1: pub1, addr2: pub2}

	var oid types.ObjectId
	oid[0] = 9

	authorities := []authority.Client{
		&staleSequenceAuthority{name: addr1, objectID: oid, expected: 6},
		&staleSequenceAuthority{name: addr2, objectID: oid, expected: 6},
	}

	b, err := broadcast.New(c, broadcast.DefaultConfig())
	if err != nil {
		t.Fatalf("broadcast.New: %v", err)
	}
	cr := certrequester.New(c, pubKeys)
	byName := map[types.AuthorityName]authority.Client{addr1: authorities[0], addr2: authorities[1]}
	sy := syncer.New(c, pubKeys, byName, syncer.DefaultConfig())
	st := store.New(dbm.NewMemDB())
	dl := download.New(authorities, st, download.DefaultConfig())

	owner := types.Address{0x42}
	am := address.New(owner, st, func(*types.Transaction) error {
		return errors.New("retry not expected in this test")
	}, nil)

	cl := New(c, authorities, st, am, b, cr, sy, dl, nil)

	input := types.Input{Tag: types.InputOwnedMoveObject, Owned: types.ObjectRef{ID: oid, Version: 5}}
	tx := &types.Transaction{Sender: owner, Inputs: []types.Input{input}}

	if _, err := cl.ExecuteTransaction(context.Background(), tx); err == nil {
		t.Fatal("expected ExecuteTransaction to fail when every authority rejects the vote")
	}

	if _, ok, err := st.GetPending(oid); err != nil {
		t.Fatalf("GetPending: %v", err)
	} else if ok {
		t.Fatal("expected the lock to be released once the broadcast error resolved to UnexpectedSequenceNumber")
	}
}
