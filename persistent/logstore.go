package persistent

// Bolt is a pure Go key/value store that doesn't require a full database
// server. Each raft server owns one bolt file per store.
import (
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/tunakv/tunakv/common"
)

var logsBucketName = []byte("logs")

// DbLogStore is a log store implementation backed by a Bolt DB.
type DbLogStore struct {
	db *bolt.DB
}

var _ common.LogStore = DbLogStore{}

func CreateDbLogStore(databaseFilePath string) (DbLogStore, error) {
	// The .db file is created if it doesn't exist.
	db, err := bolt.Open(databaseFilePath, 0600, nil)
	if err != nil {
		return DbLogStore{}, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logsBucketName)
		return err
	})
	if err != nil {
		return DbLogStore{}, err
	}
	return DbLogStore{db: db}, nil
}

// Store appends or overwrites the entry at entry.Index. Storing beyond the
// current length (holes in the log) is rejected.
func (d DbLogStore) Store(entry common.LogEntry) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucketName)
		length := logLength(bucket)
		if entry.Index > length {
			return fmt.Errorf("store at index %d would leave a hole (log length %d)", entry.Index, length)
		}
		raw, err := encodeGob(entry)
		if err != nil {
			return err
		}
		return bucket.Put(int64ToBytes(entry.Index), raw)
	})
}

func (d DbLogStore) Get(index int64) (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(logsBucketName).Get(int64ToBytes(index))
		if raw == nil {
			return fmt.Errorf("no log entry at index %d", index)
		}
		var err error
		entry, err = decodeLogEntry(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d DbLogStore) GetLast() (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		_, raw := tx.Bucket(logsBucketName).Cursor().Last()
		if raw == nil {
			return fmt.Errorf("log is empty")
		}
		var err error
		entry, err = decodeLogEntry(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d DbLogStore) Length() (int64, error) {
	var length int64
	err := d.db.View(func(tx *bolt.Tx) error {
		length = logLength(tx.Bucket(logsBucketName))
		return nil
	})
	return length, err
}

// Truncate removes all entries at or after the given index.
func (d DbLogStore) Truncate(from int64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(logsBucketName).Cursor()
		for key, _ := cursor.Seek(int64ToBytes(from)); key != nil; key, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d DbLogStore) Close() error {
	return d.db.Close()
}

// logLength derives the length from the last key rather than bucket stats,
// since stats lag behind uncommitted writes within a transaction.
func logLength(bucket *bolt.Bucket) int64 {
	key, _ := bucket.Cursor().Last()
	if key == nil {
		return 0
	}
	return bytesToInt64(key) + 1
}
