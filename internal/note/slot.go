package note

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "store"

// Slot defines the durable key-value storage the Store mirrors itself into
type Slot interface {
	// Get returns the value for key; ok is false when the key was never written
	Get(key string) (data []byte, ok bool, err error)

	// Set replaces the value for key
	Set(key string, data []byte) error
}

// BoltSlot implements the Slot interface using BoltDB
type BoltSlot struct {
	db *bbolt.DB
}

// NewBoltSlot opens (or creates) a BoltDB file at path
func NewBoltSlot(path string) (*BoltSlot, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltSlot{db: db}, nil
}

// Get retrieves the value stored under key
func (b *BoltSlot) Get(key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		v := bucket.Get([]byte(key))
		if v != nil {
			// bolt values are only valid for the life of the transaction
			data = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, data != nil, nil
}

// Set writes the value for key in a single transaction
func (b *BoltSlot) Set(key string, data []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltSlot) Close() error {
	return b.db.Close()
}
