// Package types holds the wire- and storage-level data model shared by
// every component: object identity, transactions, votes, certificates
// and effects.
package types

import (
	"encoding/hex"
	"fmt"
)

// ObjectId uniquely identifies one object across all its versions.
type ObjectId [20]byte

func (id ObjectId) String() string { return hex.EncodeToString(id[:]) }

// Version is a per-object monotonic sequence number.
type Version uint64

// Digest is a fixed-width content hash of a serialized object.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// TxDigest is a fixed-width hash of a transaction's canonical encoding.
type TxDigest [32]byte

func (d TxDigest) String() string { return hex.EncodeToString(d[:]) }

// Address is a public-key-derived identity. When indexed by the
// committee it also serves as an AuthorityName.
type Address [20]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// AuthorityName is an alias for Address used at committee boundaries.
type AuthorityName = Address

// ObjectRef is the unique coordinate of one version of one object.
type ObjectRef struct {
	ID      ObjectId
	Version Version
	Digest  Digest
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s@%d/%s", r.ID, r.Version, r.Digest)
}

// OwnerKind distinguishes an address-owned object from a shared one.
type OwnerKind int

const (
	OwnerAddress OwnerKind = iota
	OwnerShared
)

// Owner names who controls an object after an effect.
type Owner struct {
	Kind    OwnerKind
	Address Address // valid when Kind == OwnerAddress
}

// TransactionKind is the top-level shape of a transaction.
type TransactionKind int

const (
	KindTransfer TransactionKind = iota
	KindCall
	KindPublish
)

// InputTag distinguishes the three InputKind variants.
type InputTag int

const (
	InputOwnedMoveObject InputTag = iota
	InputSharedMoveObject
	InputMovePackage
)

// Input is a tagged union over the three InputKind variants named in
// the data model. Only one of Owned/SharedID/Package is populated,
// selected by Tag.
type Input struct {
	Tag      InputTag
	Owned    ObjectRef // InputOwnedMoveObject
	SharedID ObjectId  // InputSharedMoveObject
	Package  ObjectRef // InputMovePackage
}

// ObjectID returns the object this input refers to, regardless of tag.
func (in Input) ObjectID() ObjectId {
	switch in.Tag {
	case InputOwnedMoveObject:
		return in.Owned.ID
	case InputSharedMoveObject:
		return in.SharedID
	case InputMovePackage:
		return in.Package.ID
	default:
		return ObjectId{}
	}
}

// ParticipatesInLocking reports whether this input is subject to the
// address manager's lock table. Packages are immutable and never
// locked. Shared objects are included per the mirrored-but-flagged
// decision recorded in SPEC_FULL.md's Open Questions section.
func (in Input) ParticipatesInLocking() bool {
	return in.Tag == InputOwnedMoveObject || in.Tag == InputSharedMoveObject
}

// InputVersion returns the version this input expects, if it names one.
func (in Input) InputVersion() (Version, bool) {
	switch in.Tag {
	case InputOwnedMoveObject:
		return in.Owned.Version, true
	case InputMovePackage:
		return in.Package.Version, true
	default:
		return 0, false
	}
}

// Transaction is sender-signed and names the objects it consumes.
type Transaction struct {
	Sender    Address
	Kind      TransactionKind
	Inputs    []Input
	GasRef    ObjectRef
	Signature []byte

	// CallData carries the opaque Move-call or package-publish payload
	// for either kind. Construction of these payloads is out of scope;
	// the façade only routes on Kind and stores the bytes unexamined.
	CallData []byte
}

// Digest returns the canonical TxDigest of the transaction, excluding
// the signature itself.
func (t *Transaction) Digest() TxDigest {
	return ComputeTxDigest(t)
}

// SignedVote is one authority's endorsement of a transaction's digest.
type SignedVote struct {
	Authority Address
	Signature []byte
}

// CertifiedTx is a transaction plus a set of SignedVotes whose combined
// stake meets the committee's quorum threshold. It is deliberately NOT
// an aggregated signature: every vote is carried and verified
// individually.
type CertifiedTx struct {
	Transaction Transaction
	Votes       []SignedVote
}

func (c *CertifiedTx) Digest() TxDigest { return c.Transaction.Digest() }

// EffectsStatus is the deterministic success/failure outcome of
// executing a transaction.
type EffectsStatus struct {
	Success bool
	GasUsed uint64
	Err     string // populated iff !Success
}

// CreatedOrMutated pairs a new object coordinate with its resulting
// owner.
type CreatedOrMutated struct {
	Ref   ObjectRef
	Owner Owner
}

// TransactionEffects is the deterministic outcome of executing a
// transaction.
type TransactionEffects struct {
	Status       EffectsStatus
	Created      []CreatedOrMutated
	Mutated      []CreatedOrMutated
	Deleted      []ObjectId
	Dependencies []TxDigest
}

// OrderInfoResponse is returned by handle_transaction and
// handle_confirmation_order.
type OrderInfoResponse struct {
	SignedVote      *SignedVote
	SignedEffects   *TransactionEffects
	CertifiedOrder  *CertifiedTx
}

// ObjectAndLock bundles an object's current coordinate and payload
// with whatever transaction, if any, currently holds its authority-side
// lock.
type ObjectAndLock struct {
	Ref      ObjectRef
	Payload  []byte
	LockedBy *TxDigest // nil if unlocked
}

// ObjectInfoResponse is returned by handle_object_info_request.
type ObjectInfoResponse struct {
	ObjectAndLock     *ObjectAndLock
	ParentCertificate *CertifiedTx
}

// AccountInfoResponse is returned by handle_account_info_request.
type AccountInfoResponse struct {
	ObjectIDs []ObjectId
}
