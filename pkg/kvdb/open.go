// Package kvdb opens the embedded ordered key-value store backing one
// managed address's directory. It is a thin wrapper over CometBFT's
// dbm.DB, the same backend the teacher's pkg/kvdb.KVAdapter wraps for
// pkg/ledger.LedgerStore — generalized here to expose the full dbm.DB
// surface (Get/Set/Batch/Iterator) instead of narrowing it to Get/Set,
// since the persistent store needs atomic multi-column batches and
// key-ordered iteration that a narrower interface would hide.
package kvdb

import (
	"fmt"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/vaultbft/client/internal/types"
)

// OpenAddressDB opens (creating if absent) the goleveldb-backed
// database for one managed address, rooted under baseDir.
func OpenAddressDB(baseDir string, address types.Address) (dbm.DB, error) {
	name := fmt.Sprintf("addr-%s", address)
	db, err := dbm.NewGoLevelDB(name, baseDir)
	if err != nil {
		return nil, fmt.Errorf("kvdb: opening address db at %s: %w", filepath.Join(baseDir, name), err)
	}
	return db, nil
}
