package store

import (
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/eventpass/ticketpay/internal/models"
)

const bucketName = "transactions"

// BoltStore persists transactions in a single-file BoltDB database. Bolt
// allows one read-write transaction at a time, so the Update contract's
// per-id exclusivity falls out of the storage engine itself.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path and ensures the
// transactions bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(btx *bolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Create(tx *models.Transaction) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(bucketName))

		if existing := b.Get([]byte(tx.ID)); existing != nil {
			return ErrExists
		}

		now := time.Now().UTC()
		tx.CreatedAt = now
		tx.UpdatedAt = now

		data, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		return b.Put([]byte(tx.ID), data)
	})
}

func (s *BoltStore) Get(id string) (*models.Transaction, error) {
	var tx models.Transaction

	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(bucketName))
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &tx)
	})
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *BoltStore) Update(id string, mutate func(*models.Transaction) error) (*models.Transaction, error) {
	var result models.Transaction

	err := s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket([]byte(bucketName))

		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}

		var tx models.Transaction
		if err := json.Unmarshal(v, &tx); err != nil {
			return err
		}

		if err := mutate(&tx); err != nil {
			return err
		}
		tx.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(&tx)
		if err != nil {
			return err
		}

		result = tx
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
