package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/aiji/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketSessions       = "sessions"
	bucketOpenSessions   = "sessions_open"
	bucketMonthlyRecords = "monthly_records"
	bucketConfig         = "config"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketSessions),
			[]byte(bucketOpenSessions),
			[]byte(bucketMonthlyRecords),
			[]byte(bucketConfig),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is still open and readable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tx.Bucket([]byte(bucketSessions)) == nil {
			return fmt.Errorf("bucket missing: %s", bucketSessions)
		}
		return nil
	})
}

// Attendance returns the attendance store.
func (s *Store) Attendance() storage.AttendanceStore { return &attendanceStore{db: s.db} }

// Config returns the config store.
func (s *Store) Config() storage.ConfigStore { return &configStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket missing: %s", name)
	}
	return b, nil
}

func getValue[T any](tx *bbolt.Tx, bucketName string, key []byte) (*T, error) {
	b, err := bucket(tx, bucketName)
	if err != nil {
		return nil, err
	}
	value := b.Get(key)
	if value == nil {
		return nil, storage.ErrNotFound
	}
	var result T
	if err := unmarshal(value, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func putValue(tx *bbolt.Tx, bucketName string, key []byte, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	b, err := bucket(tx, bucketName)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func sessionKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func userKey(userID int64) []byte {
	return []byte(strconv.FormatInt(userID, 10))
}

func monthPrefix(year, month int) string {
	return fmt.Sprintf("%04d/%02d/", year, month)
}

func monthlyKey(userID int64, year, month int) []byte {
	return []byte(monthPrefix(year, month) + strconv.FormatInt(userID, 10))
}
