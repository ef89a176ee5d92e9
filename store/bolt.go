package store

import (
	"bytes"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Bolt is the persistent embedded KV backend, a single bucket keyed by the
// caller's own key scheme. Grounded on the teacher's storage.Bolt, ported
// from the deprecated boltdb/bolt import to the etcd-maintained fork already
// required by the module.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(db *bolt.DB, bucket string) *Bolt {
	return &Bolt{db: db, bucket: []byte(bucket)}
}

func (b *Bolt) Put(key string, value []byte) error {
	return errors.Wrap(b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(b.bucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	}), "bolt put")
}

func (b *Bolt) Get(key string) (*KeyValue, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return ErrNoKeyExists
		}
		val := bucket.Get([]byte(key))
		if val == nil {
			return ErrNoKeyExists
		}
		value = make([]byte, len(val))
		copy(value, val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &KeyValue{Key: key, Value: value}, nil
}

func (b *Bolt) Delete(key string) error {
	return errors.Wrap(b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	}), "bolt delete")
}

func (b *Bolt) Exists(key string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		exists = bucket.Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

func (b *Bolt) List(prefix string) (kvs []*KeyValue, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		pfx := []byte(prefix)
		for key, v := cursor.Seek(pfx); key != nil && bytes.HasPrefix(key, pfx); key, v = cursor.Next() {
			value := make([]byte, len(v))
			copy(value, v)
			kvs = append(kvs, &KeyValue{Key: string(key), Value: value})
		}
		return nil
	})
	return kvs, err
}

// Snapshot returns every entry in the bucket.
func (b *Bolt) Snapshot() ([]*KeyValue, error) {
	return b.List("")
}

// Reset replaces the bucket's contents atomically from the caller's view.
func (b *Bolt) Reset(kvs []*KeyValue) error {
	return errors.Wrap(b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(b.bucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket(b.bucket)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			if err := bucket.Put([]byte(kv.Key), kv.Value); err != nil {
				return err
			}
		}
		return nil
	}), "bolt reset")
}
