// Package cryptoutil provides the two cryptographic primitives the
// client needs: ed25519 vote signing (the teacher signs attestations
// with a raw ed25519.PrivateKey in its now-superseded
// pkg/attestation/service.go, before the codebase moved to BLS
// aggregation for batch attestations — this client keeps the
// unaggregated ed25519 scheme, since §3 models a CertifiedTx as a set
// of individually-verified votes, not an aggregate signature) and
// address derivation via go-ethereum's Keccak256, the same package the
// teacher's pkg/ethereum client imports for chain-address handling.
package cryptoutil

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vaultbft/client/internal/types"
)

// DeriveAddress derives a 20-byte Address from an ed25519 public key by
// Keccak256-hashing it and taking the low 20 bytes, mirroring the
// truncation go-ethereum applies to derive an Address from a public
// key.
func DeriveAddress(pub ed25519.PublicKey) types.Address {
	h := crypto.Keccak256(pub)
	var a types.Address
	copy(a[:], h[len(h)-20:])
	return a
}

// SignVote signs a transaction digest with an authority's private key,
// producing the Signature field of a SignedVote.
func SignVote(priv ed25519.PrivateKey, digest types.TxDigest) []byte {
	return ed25519.Sign(priv, digest[:])
}

// VerifyVote verifies a SignedVote's signature against an authority's
// known public key.
func VerifyVote(pub ed25519.PublicKey, digest types.TxDigest, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, digest[:], sig)
}

// VerifyCertificate checks every vote in a CertifiedTx against the
// committee's known public keys, requiring distinct signers and a
// valid signature from each. It does not check the stake sum: the
// certificate requester combines it with a committee weight lookup to
// enforce the quorum threshold, while the syncer applies this per-vote
// check alone, with no stake threshold.
func VerifyCertificate(pubKeys map[types.Address]ed25519.PublicKey, c *types.CertifiedTx) error {
	digest := c.Digest()
	seen := make(map[types.Address]bool, len(c.Votes))
	for _, vote := range c.Votes {
		if seen[vote.Authority] {
			return fmt.Errorf("cryptoutil: duplicate signer %s in certificate", vote.Authority)
		}
		seen[vote.Authority] = true

		pub, ok := pubKeys[vote.Authority]
		if !ok {
			return fmt.Errorf("cryptoutil: unknown signer %s", vote.Authority)
		}
		if !VerifyVote(pub, digest, vote.Signature) {
			return fmt.Errorf("cryptoutil: invalid signature from %s", vote.Authority)
		}
	}
	return nil
}
