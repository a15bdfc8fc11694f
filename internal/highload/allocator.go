package highload

import (
	"context"
	"fmt"

	"github.com/toncenter/examples/internal/repository"
)

// Allocate returns the next unused query id of the sequence and persists its
// successor before handing the value out, so a crash never reissues it.
func Allocate(ctx context.Context, store repository.SequenceRepository, key string) (QueryID, error) {
	raw, err := store.GetSequence(ctx, key)
	if err != nil {
		return QueryID{}, fmt.Errorf("failed to read sequence %s: %w", key, err)
	}
	current, err := FromUint(uint32(raw))
	if err != nil || raw >= 1<<queryIDBits {
		return QueryID{}, fmt.Errorf("sequence %s holds invalid query id %d", key, raw)
	}
	if err := store.SetSequence(ctx, key, uint64(Advance(current).Uint())); err != nil {
		return QueryID{}, fmt.Errorf("failed to persist sequence %s: %w", key, err)
	}
	return current, nil
}

// Advance returns the successor of current in the cyclic query id space
func Advance(current QueryID) QueryID {
	return current.Next()
}
