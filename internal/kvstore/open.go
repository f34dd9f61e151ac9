package kvstore

import (
	"path/filepath"

	"github.com/staysense/staysense-go/internal/conf"
	"github.com/staysense/staysense-go/internal/datastore"
	"github.com/staysense/staysense-go/internal/datastore/repository"
	"github.com/staysense/staysense-go/internal/errors"
)

// Open creates the Store selected by backend. For the sqlite backend the
// shared datastore manager is required; the returned store does not own it.
func Open(backend, dataDir string, db *datastore.Manager) (Store, error) {
	switch backend {
	case conf.BackendMemory:
		return NewMemoryStore(), nil
	case conf.BackendBolt:
		return OpenBolt(filepath.Join(dataDir, BoltFile))
	case conf.BackendSQLite, "":
		if db == nil {
			return nil, errors.Newf("sqlite backend requires an open datastore").
				Component("kvstore").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return NewSQLStore(repository.NewKVRepository(db.DB()), nil), nil
	default:
		return nil, errors.Newf("unknown storage backend %q", backend).
			Component("kvstore").
			Category(errors.CategoryConfiguration).
			Context("backend", backend).
			Build()
	}
}
