package store

import (
	"encoding/json"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/errs"
	"github.com/vaultbft/client/internal/types"
)

// Batch accumulates mutations across any of the store's columns for a
// single atomic commit, the "batch API" §4.B requires so that
// apply_effects and lock/unlock writes are all-or-nothing.
type Batch struct {
	b   dbm.Batch
	err error
}

// NewBatch starts a new atomic batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (batch *Batch) setJSON(key []byte, v any) {
	if batch.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		batch.err = errs.Wrap(errs.Corruption, "marshal batch value", err)
		return
	}
	if err := batch.b.Set(key, b); err != nil {
		batch.err = errs.Wrap(errs.StorageIo, "batch set", err)
	}
}

func (batch *Batch) delete(key []byte) {
	if batch.err != nil {
		return
	}
	if err := batch.b.Delete(key); err != nil {
		batch.err = errs.Wrap(errs.StorageIo, "batch delete", err)
	}
}

func (batch *Batch) PutObjectRef(id types.ObjectId, ref types.ObjectRef) *Batch {
	batch.setJSON(keyFor(prefixObjectRefs, id[:]), ref)
	return batch
}

func (batch *Batch) DeleteObjectRef(id types.ObjectId) *Batch {
	batch.delete(keyFor(prefixObjectRefs, id[:]))
	return batch
}

func (batch *Batch) PutObjectCert(ref types.ObjectRef, digest types.TxDigest) *Batch {
	if batch.err != nil {
		return batch
	}
	key := keyFor(prefixObjectCerts, refNaturalKey(ref))
	if err := batch.b.Set(key, digest[:]); err != nil {
		batch.err = errs.Wrap(errs.StorageIo, "batch set object cert", err)
	}
	return batch
}

func (batch *Batch) PutCertificate(c *types.CertifiedTx) *Batch {
	digest := c.Digest()
	batch.setJSON(keyFor(prefixCertificates, digest[:]), c)
	return batch
}

func (batch *Batch) PutObjectPayload(ref types.ObjectRef, payload []byte) *Batch {
	if batch.err != nil {
		return batch
	}
	key := keyFor(prefixObjects, refNaturalKey(ref))
	if err := batch.b.Set(key, payload); err != nil {
		batch.err = errs.Wrap(errs.StorageIo, "batch set object payload", err)
	}
	return batch
}

func (batch *Batch) PutPending(id types.ObjectId, t *types.Transaction) *Batch {
	batch.setJSON(keyFor(prefixPending, id[:]), t)
	return batch
}

func (batch *Batch) DeletePending(id types.ObjectId) *Batch {
	batch.delete(keyFor(prefixPending, id[:]))
	return batch
}

// Write commits the batch atomically and durably. Any error recorded
// during accumulation short-circuits the commit.
func (batch *Batch) Write() error {
	if batch.err != nil {
		batch.b.Close()
		return batch.err
	}
	if err := batch.b.WriteSync(); err != nil {
		return errs.Wrap(errs.StorageIo, "batch write", err)
	}
	return nil
}
