package bolt

import (
	"context"

	"github.com/goodtune/aiji/internal/storage"
	"go.etcd.io/bbolt"
)

type configStore struct {
	db *bbolt.DB
}

func (s *configStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := bucket(tx, bucketConfig)
		if err != nil {
			return err
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return storage.ErrNotFound
		}
		value = string(raw)
		return nil
	})
	return value, err
}

func (s *configStore) Set(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := bucket(tx, bucketConfig)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *configStore) List(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConfig)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			values[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
