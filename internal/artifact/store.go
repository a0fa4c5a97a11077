package artifact

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ignitionstack/wasmshim/internal/repository"
)

var keyPrefix = []byte("artifact/")

// Store caches precompiled envelopes keyed by the engine compatibility
// key and the source layer digest. Entries written under an older
// compatibility key are stale and removed by InvalidateStale.
type Store struct {
	repo      repository.DBRepository
	compatKey string
}

// Open opens the artifact store at dir for the given compatibility key.
func Open(dir, compatKey string) (*Store, error) {
	repo, err := repository.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	return &Store{repo: repo, compatKey: compatKey}, nil
}

func NewStore(repo repository.DBRepository, compatKey string) *Store {
	return &Store{repo: repo, compatKey: compatKey}
}

func (s *Store) key(digest string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", keyPrefix, s.compatKey, digest))
}

// Get returns the cached envelope for digest, if present under the
// current compatibility key.
func (s *Store) Get(digest string) ([]byte, bool, error) {
	var blob []byte
	err := s.repo.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(digest))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read artifact %s: %w", digest, err)
	}
	return blob, true, nil
}

func (s *Store) Put(digest string, blob []byte) error {
	err := s.repo.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(digest), blob)
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", digest, err)
	}
	return nil
}

// InvalidateStale deletes every artifact written under a different
// compatibility key and returns how many were removed.
func (s *Store) InvalidateStale() (int, error) {
	current := append(append([]byte{}, keyPrefix...), s.compatKey...)
	removed := 0
	err := s.repo.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if !bytes.HasPrefix(k, current) {
				stale = append(stale, k)
			}
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate stale artifacts: %w", err)
	}
	return removed, nil
}

func (s *Store) Close() error {
	return s.repo.Close()
}
