package raftstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var stableBucket = []byte("stable")

// ErrKeyNotFound matches the error string hashicorp/raft probes for when
// a stable-store key was never written.
var ErrKeyNotFound = errors.New("not found")

// StableStore persists raft's small metadata (current term, votedFor) in
// a bbolt database next to the segment files.
type StableStore struct {
	conn *bbolt.DB
}

func NewStableStore(path string) (*StableStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stableBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &StableStore{conn: db}, nil
}

func (s *StableStore) Set(key, val []byte) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stableBucket).Put(key, val)
	})
}

func (s *StableStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(stableBucket).Get(key)
		if data == nil {
			return ErrKeyNotFound
		}
		val = make([]byte, len(data))
		copy(val, data)
		return nil
	})
	return val, err
}

func (s *StableStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, uint64ToBytes(val))
}

func (s *StableStore) GetUint64(key []byte) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	return bytesToUint64(data), nil
}

func (s *StableStore) Close() error {
	return s.conn.Close()
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
