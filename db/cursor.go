package db

import "strconv"

// KVCursorStore keeps scan cursors in an IDB key-value store. Used with the
// leveldb backend when no database section is configured.
type KVCursorStore struct {
	db IDB
}

func NewKVCursorStore(db IDB) *KVCursorStore {
	return &KVCursorStore{db: db}
}

func (s *KVCursorStore) GetSyncPoint(chain string) (uint64, error) {
	key := []byte(syncPointKey(chain))
	ok, err := s.db.Has(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	val, err := s.db.Get(key)
	if err != nil {
		return 0, err
	}

	return strconv.ParseUint(string(val), 10, 64)
}

func (s *KVCursorStore) UpdateSyncPoint(chain string, height uint64) error {
	return s.db.Put([]byte(syncPointKey(chain)), []byte(strconv.FormatUint(height, 10)))
}
