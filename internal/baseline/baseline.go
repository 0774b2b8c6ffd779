// Package baseline persists the last-known snapshot of a table in a local
// bbolt file, so an editing session can resume without a full rescan.
package baseline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mrtj/dynamodb-connection/item"
)

// ErrNotFound is returned when no snapshot was saved for a table.
var ErrNotFound = errors.New("baseline: no saved snapshot")

var (
	rootBucket = []byte("snapshots")
	metaKey    = []byte("meta")
	rowsBucket = []byte("rows")
)

// Info describes a saved snapshot.
type Info struct {
	KeyAttribute string    `msgpack:"key"`
	Columns      []string  `msgpack:"cols"`
	Rows         int       `msgpack:"rows"`
	SavedAt      time.Time `msgpack:"saved_at"`
}

// Store keeps one snapshot per table name.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens or creates the baseline file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the snapshot stored for table.
func (s *Store) Save(table string, snap item.Snapshot) error {
	info := Info{
		KeyAttribute: snap.KeyAttribute,
		Columns:      snap.Columns,
		Rows:         len(snap.Items),
		SavedAt:      time.Now().UTC(),
	}
	metaBuf, err := encode(info)
	if err != nil {
		return fmt.Errorf("baseline: encode meta: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(rootBucket)
		if err := root.DeleteBucket([]byte(table)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		tb, err := root.CreateBucket([]byte(table))
		if err != nil {
			return err
		}
		if err := tb.Put(metaKey, metaBuf); err != nil {
			return err
		}
		rows, err := tb.CreateBucket(rowsBucket)
		if err != nil {
			return err
		}
		for i, it := range snap.Items {
			buf, err := encode(toWireItem(it))
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			if err := rows.Put(position(i), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("baseline: save %s: %w", table, err)
	}
	s.logger.Debug("baseline: saved", "table", table, "rows", info.Rows)
	return nil
}

// Load returns the snapshot stored for table, in the order it was saved.
func (s *Store) Load(table string) (item.Snapshot, error) {
	var snap item.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		tb := tx.Bucket(rootBucket).Bucket([]byte(table))
		if tb == nil {
			return ErrNotFound
		}
		var info Info
		if err := decode(tb.Get(metaKey), &info); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
		items := make([]item.Item, 0, info.Rows)
		rows := tb.Bucket(rowsBucket)
		if rows != nil {
			err := rows.ForEach(func(k, v []byte) error {
				var w wireItem
				if err := decode(v, &w); err != nil {
					return fmt.Errorf("row %d: %w", binary.BigEndian.Uint64(k), err)
				}
				it, err := w.item()
				if err != nil {
					return fmt.Errorf("row %d: %w", binary.BigEndian.Uint64(k), err)
				}
				items = append(items, it)
				return nil
			})
			if err != nil {
				return err
			}
		}
		snap = item.Snapshot{KeyAttribute: info.KeyAttribute, Items: items, Columns: info.Columns}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return item.Snapshot{}, err
	}
	if err != nil {
		return item.Snapshot{}, fmt.Errorf("baseline: load %s: %w", table, err)
	}
	return snap, nil
}

// Stat returns the description of the snapshot stored for table.
func (s *Store) Stat(table string) (Info, error) {
	var info Info
	err := s.db.View(func(tx *bbolt.Tx) error {
		tb := tx.Bucket(rootBucket).Bucket([]byte(table))
		if tb == nil {
			return ErrNotFound
		}
		return decode(tb.Get(metaKey), &info)
	})
	return info, err
}

// Delete drops the snapshot stored for table. Deleting a missing
// snapshot is not an error.
func (s *Store) Delete(table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(rootBucket).DeleteBucket([]byte(table))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func position(i int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return b[:]
}
