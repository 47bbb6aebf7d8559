// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore

import (
	"bytes"
	"encoding/gob"
	"os"
	"time"

	"github.com/boltdb/bolt"
	"github.com/libp2p/go-libp2p/core/peer"
)

var recordsBucket = []byte("Records")

// diskRecord is the gob-serializable projection of a Record, keyed
// separately so the wire format does not depend on Record's exported
// shape: Records/<dht_key> -> {value, publisher?, expires_at?}.
type diskRecord struct {
	Value     []byte
	Publisher string // empty means no publisher
	ExpiresAt int64  // unix nanos, 0 means no expiry
}

func encodeRecord(r *Record) ([]byte, error) {
	d := diskRecord{Value: r.Value}
	if r.Publisher != nil {
		d.Publisher = r.Publisher.String()
	}
	if r.ExpiresAt != nil {
		d.ExpiresAt = r.ExpiresAt.UnixNano()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(key, raw []byte) (*Record, error) {
	var d diskRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
		return nil, Error.Wrap(err)
	}
	r := &Record{Key: append([]byte(nil), key...), Value: d.Value}
	if d.Publisher != "" {
		p, err := peer.Decode(d.Publisher)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		r.Publisher = &p
	}
	if d.ExpiresAt != 0 {
		t := time.Unix(0, d.ExpiresAt)
		r.ExpiresAt = &t
	}
	return r, nil
}

// DiskStore is a bolt-backed Store. TTL enforcement is delegated to
// compaction: Retain is a no-op, and Shrink rewrites the database keeping
// only records that are not expired as of the moment compaction begins,
// since bolt has no native compaction-filter hook.
type DiskStore struct {
	path string
	db   *bolt.DB
}

// OpenDiskStore opens (creating if necessary) a bolt database at path.
func OpenDiskStore(path string) (*DiskStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &DiskStore{path: path, db: db}, nil
}

// Put overwrites any existing record at record.Key.
func (s *DiskStore) Put(record *Record) error {
	raw, err := encodeRecord(record)
	if err != nil {
		return err
	}
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(record.Key, raw)
	}))
}

// Get returns the record at key. A record whose expiry has already
// passed is filtered out here too, so readers never observe it even
// before the next compaction physically removes it.
func (s *DiskStore) Get(key []byte) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(recordsBucket).Get(key)
		if raw == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(key, raw)
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if rec != nil && rec.Expired(time.Now()) {
		return nil, nil
	}
	return rec, nil
}

// Remove deletes the record at key, if any.
func (s *DiskStore) Remove(key []byte) error {
	return Error.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete(key)
	}))
}

// Records returns every record currently held, expired or not -- callers
// that need the live view should filter with Expired themselves; this
// walks the raw bucket without consulting compaction state.
func (s *DiskStore) Records() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(k, v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, Error.Wrap(err)
}

// Retain is a no-op: TTL is ambient on the disk store, enforced by
// compaction rather than an explicit scan.
func (s *DiskStore) Retain(func(*Record) bool) (int, error) {
	return 0, nil
}

// Shrink runs the compaction pass: every record whose ExpiresAt is absent
// or not yet reached as of the pass's start is copied into a fresh bolt
// file, which then replaces the current one. The reference instant is
// the wall-clock time this call started.
func (s *DiskStore) Shrink() error {
	now := time.Now()
	tmpPath := s.path + ".compact"

	fresh, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return Error.Wrap(err)
	}

	err = fresh.Update(func(ftx *bolt.Tx) error {
		fb, err := ftx.CreateBucketIfNotExists(recordsBucket)
		if err != nil {
			return err
		}
		return s.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
				rec, err := decodeRecord(k, v)
				if err != nil {
					return err
				}
				if rec.Expired(now) {
					return nil
				}
				return fb.Put(k, v)
			})
		})
	})
	if err != nil {
		_ = fresh.Close()
		_ = os.Remove(tmpPath)
		return Error.Wrap(err)
	}
	if err := fresh.Close(); err != nil {
		return Error.Wrap(err)
	}
	if err := s.db.Close(); err != nil {
		return Error.Wrap(err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return Error.Wrap(err)
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return Error.Wrap(err)
	}
	s.db = db
	return nil
}

// Close releases the underlying bolt database.
func (s *DiskStore) Close() error {
	return Error.Wrap(s.db.Close())
}

var _ Store = (*DiskStore)(nil)
