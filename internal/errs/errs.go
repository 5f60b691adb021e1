// Package errs implements the error taxonomy of the ledger client:
// a small set of kinds, each carrying enough payload to be compared
// for grouping (kind + parameters) the way the quorum broadcaster and
// the sync subsystem require.
package errs

import (
	"fmt"

	"github.com/vaultbft/client/internal/types"
)

// Kind enumerates the error taxonomy.
type Kind int

const (
	ObjectNotFound Kind = iota
	UnexpectedSequenceNumber
	InvalidObjectDigest
	LockErrors
	ConcurrentTransaction
	OverlappingInputs
	QuorumNotReached
	AuthorityUpdateFailure
	AuthorityInformationUnavailable
	ByzantineAuthoritySuspicion
	ErrorWhileRequestingCertificate
	ObjectFetchFailed
	StorageIo
	Corruption
)

func (k Kind) String() string {
	switch k {
	case ObjectNotFound:
		return "ObjectNotFound"
	case UnexpectedSequenceNumber:
		return "UnexpectedSequenceNumber"
	case InvalidObjectDigest:
		return "InvalidObjectDigest"
	case LockErrors:
		return "LockErrors"
	case ConcurrentTransaction:
		return "ConcurrentTransaction"
	case OverlappingInputs:
		return "OverlappingInputs"
	case QuorumNotReached:
		return "QuorumNotReached"
	case AuthorityUpdateFailure:
		return "AuthorityUpdateFailure"
	case AuthorityInformationUnavailable:
		return "AuthorityInformationUnavailable"
	case ByzantineAuthoritySuspicion:
		return "ByzantineAuthoritySuspicion"
	case ErrorWhileRequestingCertificate:
		return "ErrorWhileRequestingCertificate"
	case ObjectFetchFailed:
		return "ObjectFetchFailed"
	case StorageIo:
		return "StorageIo"
	case Corruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is a single error-kind value, carrying whatever payload that
// kind requires. Two Errors are considered equal for grouping purposes
// (see SameKind) when their Kind and payload fields match; QuorumNotReached
// additionally carries the set of inner kinds observed.
type Error struct {
	Kind Kind

	// Payload fields, populated according to Kind.
	ObjectID  types.ObjectId
	Expected  types.Version
	Authority types.Address
	Reason    string
	Inner     []Kind // for QuorumNotReached

	wrapped error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ObjectNotFound:
		return fmt.Sprintf("object not found: %s", e.ObjectID)
	case UnexpectedSequenceNumber:
		return fmt.Sprintf("unexpected sequence number for %s: expected %d", e.ObjectID, e.Expected)
	case QuorumNotReached:
		return fmt.Sprintf("quorum not reached: inner kinds=%v", e.Inner)
	case ByzantineAuthoritySuspicion:
		return fmt.Sprintf("byzantine authority suspected: %s", e.Authority)
	case ObjectFetchFailed:
		return fmt.Sprintf("object fetch failed for %s: %s", e.ObjectID, e.Reason)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.wrapped }

// SameKind reports whether two errors would pool together under the
// broadcaster's "kind+parameters" grouping rule.
func SameKind(a, b *Error) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ObjectNotFound:
		return a.ObjectID == b.ObjectID
	case UnexpectedSequenceNumber:
		return a.ObjectID == b.ObjectID && a.Expected == b.Expected
	case ByzantineAuthoritySuspicion:
		return a.Authority == b.Authority
	case ObjectFetchFailed:
		return a.ObjectID == b.ObjectID && a.Reason == b.Reason
	default:
		return true
	}
}

// sideEffectFreeKinds are the kinds listed in §4.H/§7 for which a
// QuorumNotReached composed entirely of these kinds means the
// authorities certainly hold no state for the transaction, so the
// client-side lock may be released immediately.
var sideEffectFreeKinds = map[Kind]bool{
	UnexpectedSequenceNumber: true,
	InvalidObjectDigest:      true,
	LockErrors:                true,
	ObjectNotFound:            true,
}

// IsSideEffectFree implements the authoritative rule from §4.H/§7 in
// full (unlike the partially-commented-out classification the source
// left behind): an error is side-effect-free if it is itself one of
// the listed kinds, or is a QuorumNotReached whose inner kinds are all
// from that set.
func IsSideEffectFree(err *Error) bool {
	if err == nil {
		return true
	}
	if err.Kind == QuorumNotReached {
		if len(err.Inner) == 0 {
			return false
		}
		for _, k := range err.Inner {
			if !sideEffectFreeKinds[k] {
				return false
			}
		}
		return true
	}
	return sideEffectFreeKinds[err.Kind]
}

func New(kind Kind) *Error { return &Error{Kind: kind} }

func Wrap(kind Kind, reason string, wrapped error) *Error {
	return &Error{Kind: kind, Reason: reason, wrapped: wrapped}
}

func NewObjectNotFound(id types.ObjectId) *Error {
	return &Error{Kind: ObjectNotFound, ObjectID: id}
}

func NewUnexpectedSequenceNumber(id types.ObjectId, expected types.Version) *Error {
	return &Error{Kind: UnexpectedSequenceNumber, ObjectID: id, Expected: expected}
}

func NewQuorumNotReached(inner []Kind) *Error {
	return &Error{Kind: QuorumNotReached, Inner: inner}
}

func NewByzantineAuthoritySuspicion(a types.Address) *Error {
	return &Error{Kind: ByzantineAuthoritySuspicion, Authority: a}
}

func NewObjectFetchFailed(id types.ObjectId, reason string) *Error {
	return &Error{Kind: ObjectFetchFailed, ObjectID: id, Reason: reason}
}
