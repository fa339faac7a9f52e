package audit

import "context"

// Store is the pluggable audit backend. Append finalizes the chain linkage
// itself: implementations read their current tail as the entry's
// previousHash, compute the hash, and commit — all under one critical
// section (or CAS retry), so appends are linearizable across goroutines.
type Store interface {
	// Append links entry to the current tail and commits it. The entry's
	// PreviousHash and Hash fields are set by the store; caller-supplied
	// values are ignored.
	Append(ctx context.Context, entry *Entry) error

	// LastHash returns the hash of the newest entry, or Genesis when empty.
	LastHash(ctx context.Context) (string, error)

	// Get returns the entry recorded for a request id, or nil.
	Get(ctx context.Context, requestID string) (*Entry, error)

	// Verify walks entries in order, recomputing each hash from genesis,
	// and reports whether the chain is intact.
	Verify(ctx context.Context, entries []Entry) (bool, error)
}

// VerifyChain recomputes the hash chain over entries (assumed ordered from
// genesis) with the given secret. Shared by every Store implementation.
func VerifyChain(entries []Entry, secret string) (bool, error) {
	prev := Genesis
	for _, e := range entries {
		if e.PreviousHash != prev {
			return false, nil
		}
		expected, err := ComputeHash(e, secret)
		if err != nil {
			return false, err
		}
		if e.Hash != expected {
			return false, nil
		}
		prev = e.Hash
	}
	return true, nil
}
