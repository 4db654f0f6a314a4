package persistent

import (
	"github.com/boltdb/bolt"

	"github.com/tunakv/tunakv/common"
)

var valuesBucketName = []byte("values")

// DbValueStore persists the versioned values of a loosely-replicated node
// (the quorum path) in a Bolt DB, one gob-encoded VersionedValue per key.
type DbValueStore struct {
	db *bolt.DB
}

var _ common.ValueStore = DbValueStore{}

func NewDbValueStore(databaseFilePath string) (DbValueStore, error) {
	db, err := bolt.Open(databaseFilePath, 0600, nil)
	if err != nil {
		return DbValueStore{}, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(valuesBucketName)
		return err
	})
	if err != nil {
		return DbValueStore{}, err
	}
	return DbValueStore{db: db}, nil
}

// Get returns the stored version for key, or (nil, nil) when absent.
func (d DbValueStore) Get(key string) (*common.VersionedValue, error) {
	var version *common.VersionedValue
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(valuesBucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		decoded, err := decodeVersionedValue(raw)
		if err != nil {
			return err
		}
		version = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (d DbValueStore) Put(key string, version common.VersionedValue) error {
	raw, err := encodeGob(version)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucketName).Put([]byte(key), raw)
	})
}

func (d DbValueStore) Close() error {
	return d.db.Close()
}
