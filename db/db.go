package db

// IDB is the key-value surface backing the scan cursors. Both the local
// leveldb store and the mysql-backed store implement it.
type IDB interface {
	Put(key []byte, value []byte) error
	Delete(key []byte) error

	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}
