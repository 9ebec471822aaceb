package ledger

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// Action names a ledger write.
type Action string

const (
	ActionPublish     Action = "PUBLISH"
	ActionDiscontinue Action = "DISCONTINUE"
)

const genesisHash = "genesis"

// Entry is an immutable, hash-chained record of one write to a release.
type Entry struct {
	Sequence    uint64    `json:"sequence"`
	Action      Action    `json:"action"`
	Status      Status    `json:"status"`
	ContentHash string    `json:"contentHash"`
	Author      string    `json:"author"`
	Timestamp   time.Time `json:"timestamp"`
	PrevHash    string    `json:"prevHash"`
	EntryHash   string    `json:"entryHash"`
	SignerKey   string    `json:"signerKey,omitempty"`
	Signature   string    `json:"signature,omitempty"`
}

// document is the value stored per ledger key.
type document struct {
	Release Release `json:"release"`
	History []Entry `json:"history"`
}

func entryDigest(key string, e Entry) (string, error) {
	return crypto.CanonicalHash(struct {
		Key         string `json:"key"`
		Seq         uint64 `json:"seq"`
		Action      Action `json:"action"`
		Status      Status `json:"status"`
		ContentHash string `json:"contentHash"`
		Author      string `json:"author"`
		Timestamp   string `json:"ts"`
		PrevHash    string `json:"prev"`
	}{key, e.Sequence, e.Action, e.Status, e.ContentHash, e.Author, e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash})
}

// appendEntry chains a new entry onto doc.History reflecting doc.Release.
func appendEntry(doc *document, action Action, author string, at time.Time, signer crypto.Signer) error {
	prev := genesisHash
	if n := len(doc.History); n > 0 {
		prev = doc.History[n-1].EntryHash
	}

	e := Entry{
		Sequence:    uint64(len(doc.History)) + 1,
		Action:      action,
		Status:      doc.Release.Status,
		ContentHash: doc.Release.ContentHash,
		Author:      author,
		Timestamp:   at.UTC(),
		PrevHash:    prev,
	}

	h, err := entryDigest(doc.Release.Key(), e)
	if err != nil {
		return fmt.Errorf("failed to hash ledger entry: %w", err)
	}
	e.EntryHash = h

	if signer != nil {
		sig, err := signer.Sign([]byte(h))
		if err != nil {
			return fmt.Errorf("failed to sign ledger entry: %w", err)
		}
		e.Signature = sig
		e.SignerKey = signer.PublicKey()
	}

	doc.History = append(doc.History, e)
	return nil
}

// VerifyHistory checks the chain of one record: links, hashes, signatures,
// and that the newest entry matches the record's current state.
func VerifyHistory(rel *Release, history []Entry) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: %s has no history", ErrChainBroken, rel.Key())
	}

	prev := genesisHash
	for i, e := range history {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d expected prev %s, got %s", ErrChainBroken, i+1, prev, e.PrevHash)
		}
		computed, err := entryDigest(rel.Key(), e)
		if err != nil {
			return err
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", ErrChainBroken, i+1)
		}
		if e.Signature != "" {
			ok, err := crypto.Verify(e.SignerKey, e.Signature, []byte(e.EntryHash))
			if err != nil || !ok {
				return fmt.Errorf("%w: bad signature at entry %d", ErrChainBroken, i+1)
			}
		}
		if e.ContentHash != rel.ContentHash {
			return fmt.Errorf("%w: content hash rewritten at entry %d", ErrChainBroken, i+1)
		}
		prev = e.EntryHash
	}

	if history[0].Action != ActionPublish {
		return fmt.Errorf("%w: first entry is %s", ErrChainBroken, history[0].Action)
	}
	if last := history[len(history)-1]; last.Status != rel.Status {
		return fmt.Errorf("%w: head status %s does not match record status %s", ErrChainBroken, last.Status, rel.Status)
	}
	return nil
}
