package persistent

import (
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/tunakv/tunakv/common"
)

var stateBucketName = []byte("state")

// PStore is a general-purpose persistent key-value store backed by a Bolt
// DB. Raft servers use it for their non-volatile state variables.
type PStore struct {
	db *bolt.DB
}

var _ common.PersistentStore = PStore{}

func NewPStore(databaseFilePath string) (PStore, error) {
	db, err := bolt.Open(databaseFilePath, 0600, nil)
	if err != nil {
		return PStore{}, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucketName)
		return err
	})
	if err != nil {
		return PStore{}, err
	}
	return PStore{db: db}, nil
}

func (store PStore) Set(key, value []byte) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucketName).Put(key, value)
	})
}

func (store PStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(stateBucketName).Get(key)
		if raw == nil {
			return fmt.Errorf("no value for key %q", key)
		}
		val = append([]byte(nil), raw...)
		return nil
	})
	return val, err
}

// GetDefault returns the stored value for key, persisting and returning
// defaultVal when the key is absent.
func (store PStore) GetDefault(key []byte, defaultVal []byte) ([]byte, error) {
	var val []byte
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucketName)
		raw := bucket.Get(key)
		if raw == nil {
			val = defaultVal
			return bucket.Put(key, defaultVal)
		}
		val = append([]byte(nil), raw...)
		return nil
	})
	return val, err
}

func (store PStore) Close() error {
	return store.db.Close()
}
