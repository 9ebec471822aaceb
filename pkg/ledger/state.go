package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record is a raw state value and its revision. Revisions start at 1 and
// increase by one on every successful Update.
type Record struct {
	Value    []byte
	Revision uint64
}

// StateStore is the per-key atomic storage under a Contract. Every backend
// must make Create and Update linearizable per key: Create fails with
// ErrAlreadyExists if the key is present, Update fails with
// ErrRevisionConflict unless the stored revision equals expected.
type StateStore interface {
	Create(ctx context.Context, packageID, version string, value []byte) error
	Read(ctx context.Context, packageID, version string) (Record, error)
	Update(ctx context.Context, packageID, version string, expected uint64, value []byte) error
	List(ctx context.Context, packageID string) ([]Record, error)
	Close() error
}

func encodeDocument(doc *document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger document: %w", err)
	}
	return b, nil
}

func decodeDocument(b []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode ledger document: %w", err)
	}
	return &doc, nil
}
