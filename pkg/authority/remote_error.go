package authority

import (
	"encoding/json"
	"fmt"

	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
)

// RemoteError is returned by an HTTPClient method when the authority's
// non-2xx response decodes as a structured application error — the
// wire-level counterpart of internal/errs.Error. Carrying the real
// Kind (and whatever payload it needs) across the RPC boundary lets
// callers reconstruct the original error via ToErr instead of
// collapsing every authority-side rejection to AuthorityUpdateFailure,
// which is what left IsSideEffectFree unable to act on real network
// responses.
type RemoteError struct {
	Kind      errs.Kind
	ObjectID  types.ObjectId
	Expected  types.Version
	Authority types.Address
	Reason    string
	Inner     []errs.Kind
}

func (e *RemoteError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authority: %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("authority: %s", e.Kind)
}

// ToErr reconstructs the *errs.Error this RemoteError carries.
func (e *RemoteError) ToErr() *errs.Error {
	switch e.Kind {
	case errs.ObjectNotFound:
		return errs.NewObjectNotFound(e.ObjectID)
	case errs.UnexpectedSequenceNumber:
		return errs.NewUnexpectedSequenceNumber(e.ObjectID, e.Expected)
	case errs.ByzantineAuthoritySuspicion:
		return errs.NewByzantineAuthoritySuspicion(e.Authority)
	case errs.QuorumNotReached:
		return errs.NewQuorumNotReached(e.Inner)
	case errs.ObjectFetchFailed:
		return errs.NewObjectFetchFailed(e.ObjectID, e.Reason)
	default:
		return &errs.Error{
			Kind:      e.Kind,
			ObjectID:  e.ObjectID,
			Expected:  e.Expected,
			Authority: e.Authority,
			Reason:    e.Reason,
			Inner:     e.Inner,
		}
	}
}

// remoteErrorWire is the JSON shape of a structured error body:
// {"error": {"kind": ..., "object_id": ..., ...}}.
type remoteErrorWire struct {
	Kind      errs.Kind      `json:"kind"`
	ObjectID  types.ObjectId `json:"object_id"`
	Expected  types.Version  `json:"expected"`
	Authority types.Address  `json:"authority"`
	Reason    string         `json:"reason"`
	Inner     []errs.Kind    `json:"inner,omitempty"`
}

// parseRemoteError attempts to decode a non-2xx response body as a
// structured application error. It returns nil if the body has no
// top-level "error" object, meaning the failure is an opaque transport
// or server error rather than one the ledger error taxonomy covers.
func parseRemoteError(body []byte) *RemoteError {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	raw, ok := probe["error"]
	if !ok {
		return nil
	}
	var w remoteErrorWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil
	}
	return &RemoteError{
		Kind:      w.Kind,
		ObjectID:  w.ObjectID,
		Expected:  w.Expected,
		Authority: w.Authority,
		Reason:    w.Reason,
		Inner:     w.Inner,
	}
}
