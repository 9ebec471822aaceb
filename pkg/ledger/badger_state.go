package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerState is an embedded, durable StateStore. Badger's optimistic
// transactions abort a commit that raced another write to the same key;
// those aborts surface as ErrRevisionConflict (or ErrAlreadyExists for Create).
type BadgerState struct {
	db *badger.DB
}

// OpenBadgerState opens (or creates) a badger database in dir.
// An empty dir opens an in-memory database.
func OpenBadgerState(dir string) (*BadgerState, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger ledger state: %w", err)
	}
	return &BadgerState{db: db}, nil
}

func badgerKey(packageID, version string) []byte {
	return []byte("release/" + packageID + "/" + version)
}

func badgerPrefix(packageID string) []byte {
	return []byte("release/" + packageID + "/")
}

// Values are stored as an 8-byte big-endian revision followed by the document.
func encodeBadgerValue(rev uint64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out, rev)
	copy(out[8:], value)
	return out
}

func decodeBadgerValue(raw []byte) (Record, error) {
	if len(raw) < 8 {
		return Record{}, fmt.Errorf("corrupt badger ledger value (%d bytes)", len(raw))
	}
	return Record{
		Revision: binary.BigEndian.Uint64(raw[:8]),
		Value:    append([]byte(nil), raw[8:]...),
	}, nil
}

func (b *BadgerState) Create(ctx context.Context, packageID, version string, value []byte) error {
	key := badgerKey(packageID, version)
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, encodeBadgerValue(1, value))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrAlreadyExists
	}
	return err
}

func (b *BadgerState) Read(ctx context.Context, packageID, version string) (Record, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(packageID, version))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeBadgerValue(val)
			return err
		})
	})
	return rec, err
}

func (b *BadgerState) Update(ctx context.Context, packageID, version string, expected uint64, value []byte) error {
	key := badgerKey(packageID, version)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var current Record
		if err := item.Value(func(val []byte) error {
			current, err = decodeBadgerValue(val)
			return err
		}); err != nil {
			return err
		}
		if current.Revision != expected {
			return ErrRevisionConflict
		}
		return txn.Set(key, encodeBadgerValue(expected+1, value))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrRevisionConflict
	}
	return err
}

func (b *BadgerState) List(ctx context.Context, packageID string) ([]Record, error) {
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := badgerPrefix(packageID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				rec, err := decodeBadgerValue(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerState) Close() error {
	return b.db.Close()
}
