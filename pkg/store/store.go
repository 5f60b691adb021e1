// Package store is the per-address persistent store (SPEC_FULL §4.B):
// six typed columns under one address's directory, with get/insert per
// column (delete and key-ordered iteration for object_refs and pending)
// and an atomic multi-column Batch. The column/
// key-prefix/JSON-marshal layout and the single-writer concurrency
// comment below both follow the teacher's pkg/ledger.LedgerStore; the
// column set itself is rebuilt entirely for the object-ledger domain
// (object_refs, object_certs, certificates, objects, object_layouts,
// pending) since none of the teacher's ledger/anchor types apply here.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
)

// column key prefixes. Iteration within a column is key-ordered because
// the underlying dbm.DB iterator is key-ordered and every key here is
// "<prefix><natural key>".
var (
	prefixObjectRefs    = []byte("objref:")
	prefixObjectCerts   = []byte("objcert:")
	prefixCertificates  = []byte("cert:")
	prefixObjects       = []byte("obj:")
	prefixObjectLayouts = []byte("layout:")
	prefixPending       = []byte("pending:")
)

// Store provides typed, column-oriented access to one address's ledger
// state.
//
// CONCURRENCY: Store assumes it is driven by a single logical writer
// per address (the façade serializes execute_transaction calls per
// address via the lock table), matching the teacher's LedgerStore
// single-writer assumption. Reads may happen concurrently with that
// writer; callers needing additional concurrent writers must add their
// own synchronization.
type Store struct {
	db dbm.DB
}

// New wraps an already-open dbm.DB as a Store.
func New(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func keyFor(prefix []byte, natural []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(natural))
	out = append(out, prefix...)
	out = append(out, natural...)
	return out
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIo, "get", err)
	}
	return v, nil
}

// ====== object_refs : ObjectId -> ObjectRef (latest known) ======

func (s *Store) GetObjectRef(id types.ObjectId) (types.ObjectRef, bool, error) {
	b, err := s.get(keyFor(prefixObjectRefs, id[:]))
	if err != nil {
		return types.ObjectRef{}, false, err
	}
	if b == nil {
		return types.ObjectRef{}, false, nil
	}
	var ref types.ObjectRef
	if err := json.Unmarshal(b, &ref); err != nil {
		return types.ObjectRef{}, false, errs.Wrap(errs.Corruption, "unmarshal object ref", err)
	}
	return ref, true, nil
}

// IterateObjectRefs walks object_refs in key (ObjectId) order, calling
// fn for each entry until it returns false or the column is exhausted.
func (s *Store) IterateObjectRefs(fn func(types.ObjectId, types.ObjectRef) bool) error {
	return s.iteratePrefix(prefixObjectRefs, func(key, val []byte) (bool, error) {
		var id types.ObjectId
		copy(id[:], key)
		var ref types.ObjectRef
		if err := json.Unmarshal(val, &ref); err != nil {
			return false, errs.Wrap(errs.Corruption, "unmarshal object ref", err)
		}
		return fn(id, ref), nil
	})
}

// ====== object_certs : ObjectRef -> TxDigest (provenance) ======

// refNaturalKey encodes an ObjectRef's full coordinate (id, version,
// digest) as a fixed-width byte string suitable as a column key.
func refNaturalKey(r types.ObjectRef) []byte {
	buf := make([]byte, 0, len(r.ID)+8+len(r.Digest))
	buf = append(buf, r.ID[:]...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(r.Version))
	buf = append(buf, v[:]...)
	buf = append(buf, r.Digest[:]...)
	return buf
}

func (s *Store) GetObjectCert(ref types.ObjectRef) (types.TxDigest, bool, error) {
	b, err := s.get(keyFor(prefixObjectCerts, refNaturalKey(ref)))
	if err != nil {
		return types.TxDigest{}, false, err
	}
	if b == nil {
		return types.TxDigest{}, false, nil
	}
	var d types.TxDigest
	copy(d[:], b)
	return d, true, nil
}

// ====== certificates : TxDigest -> CertifiedTx ======

func (s *Store) GetCertificate(d types.TxDigest) (*types.CertifiedTx, bool, error) {
	b, err := s.get(keyFor(prefixCertificates, d[:]))
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	var c types.CertifiedTx
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, false, errs.Wrap(errs.Corruption, "unmarshal certificate", err)
	}
	return &c, true, nil
}

// ====== objects : ObjectRef -> payload bytes (cache) ======

func (s *Store) GetObjectPayload(ref types.ObjectRef) ([]byte, bool, error) {
	b, err := s.get(keyFor(prefixObjects, refNaturalKey(ref)))
	if err != nil {
		return nil, false, err
	}
	return b, b != nil, nil
}

// ====== object_layouts : TypeTag -> struct layout schema cache ======

func (s *Store) GetObjectLayout(typeTag string) ([]byte, bool, error) {
	b, err := s.get(keyFor(prefixObjectLayouts, []byte(typeTag)))
	if err != nil {
		return nil, false, err
	}
	return b, b != nil, nil
}

func (s *Store) PutObjectLayout(typeTag string, schema []byte) error {
	if err := s.db.SetSync(keyFor(prefixObjectLayouts, []byte(typeTag)), schema); err != nil {
		return errs.Wrap(errs.StorageIo, "put object layout", err)
	}
	return nil
}

// ====== pending : ObjectId -> Transaction (lock table) ======

func (s *Store) GetPending(id types.ObjectId) (*types.Transaction, bool, error) {
	b, err := s.get(keyFor(prefixPending, id[:]))
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	var t types.Transaction
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, false, errs.Wrap(errs.Corruption, "unmarshal pending transaction", err)
	}
	return &t, true, nil
}

// IteratePending walks the lock table in ObjectId order.
func (s *Store) IteratePending(fn func(types.ObjectId, *types.Transaction) bool) error {
	return s.iteratePrefix(prefixPending, func(key, val []byte) (bool, error) {
		var id types.ObjectId
		copy(id[:], key)
		var t types.Transaction
		if err := json.Unmarshal(val, &t); err != nil {
			return false, errs.Wrap(errs.Corruption, "unmarshal pending transaction", err)
		}
		return fn(id, &t), nil
	})
}

func (s *Store) iteratePrefix(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	end := upperBound(prefix)
	it, err := s.db.Iterator(prefix, end)
	if err != nil {
		return errs.Wrap(errs.StorageIo, "open iterator", err)
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		cont, err := fn(key[len(prefix):], it.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return it.Error()
}

// upperBound returns the smallest key greater than every key sharing
// prefix, for use as an iterator's exclusive end bound.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; unbounded
}
