package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeTxDigest hashes the canonical encoding of a transaction,
// excluding its signature. Using Keccak256 here mirrors the teacher's
// own choice of go-ethereum's crypto package for content hashing.
func ComputeTxDigest(t *Transaction) TxDigest {
	buf := canonicalEncode(t)
	return TxDigest(crypto.Keccak256Hash(buf))
}

// ComputeDigest hashes an arbitrary object payload into a Digest.
func ComputeDigest(payload []byte) Digest {
	return Digest(crypto.Keccak256Hash(payload))
}

func canonicalEncode(t *Transaction) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, t.Sender[:]...)
	buf = append(buf, byte(t.Kind))
	for _, in := range t.Inputs {
		buf = append(buf, byte(in.Tag))
		switch in.Tag {
		case InputOwnedMoveObject:
			buf = appendObjectRef(buf, in.Owned)
		case InputSharedMoveObject:
			buf = append(buf, in.SharedID[:]...)
		case InputMovePackage:
			buf = appendObjectRef(buf, in.Package)
		}
	}
	buf = appendObjectRef(buf, t.GasRef)
	buf = append(buf, t.CallData...)
	return buf
}

func appendObjectRef(buf []byte, r ObjectRef) []byte {
	buf = append(buf, r.ID[:]...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(r.Version))
	buf = append(buf, v[:]...)
	buf = append(buf, r.Digest[:]...)
	return buf
}
