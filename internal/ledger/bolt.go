package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const entriesBucket = "mileage_entries"

// BoltBackend implements the Backend interface using BoltDB
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (or creates) a BoltDB file at path
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// itob encodes an id big-endian so keys iterate in id order
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// LoadAll returns all records in id order
func (b *BoltBackend) LoadAll(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling entry: %w", err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveInsert assigns the next bucket sequence as the record ID and stores it
func (b *BoltBackend) SaveInsert(ctx context.Context, record Record) (Record, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		record.ID = int64(seq)
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return bucket.Put(itob(record.ID), data)
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// SaveDelete removes the record with the given id
func (b *BoltBackend) SaveDelete(ctx context.Context, id int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		if bucket.Get(itob(id)) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return bucket.Delete(itob(id))
	})
}

// Close closes the database connection
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
