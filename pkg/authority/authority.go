// Package authority defines the single abstract interface the rest of
// the client depends on for talking to an authority (SPEC_FULL §6,
// §9's design note: "specify as an abstract interface with those four
// operations and let the broadcaster be generic over it"). This
// mirrors the teacher's own convention of defining one canonical
// interface per external RPC surface
// (pkg/accumulate.Client: "the ONLY interface that validator code
// should depend on for Accumulate integration").
package authority

import (
	"context"

	"github.com/vaultbft/client/internal/types"
)

// ObjectInfoRequest is the payload of handle_object_info_request.
type ObjectInfoRequest struct {
	ObjectID               types.ObjectId
	RequestSequenceNumber   *types.Version
}

// Client is the capability set every authority RPC transport must
// implement: handle_transaction, handle_confirmation_order,
// handle_object_info_request, handle_account_info_request.
type Client interface {
	Name() types.AuthorityName

	HandleTransaction(ctx context.Context, tx *types.Transaction) (*types.OrderInfoResponse, error)
	HandleConfirmationOrder(ctx context.Context, cert *types.CertifiedTx) (*types.OrderInfoResponse, error)
	HandleObjectInfoRequest(ctx context.Context, req ObjectInfoRequest) (*types.ObjectInfoResponse, error)
	HandleAccountInfoRequest(ctx context.Context, address types.Address) (*types.AccountInfoResponse, error)
}
