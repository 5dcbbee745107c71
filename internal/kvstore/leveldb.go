package kvstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a Store backed by goleveldb, persisted at a filesystem path.
type LevelDB struct {
	db *leveldb.DB
}

var _ Store = (*LevelDB)(nil)

// OpenLevelDB opens (or creates) a LevelDB database at path. The parent
// directory is created if missing.
func OpenLevelDB(path string) (*LevelDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBInMemory opens a non-persistent LevelDB instance. Used by tests
// that want real iterator semantics without touching disk.
func OpenLevelDBInMemory() (*LevelDB, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Scan(prefix []byte) ([]Entry, error) {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
