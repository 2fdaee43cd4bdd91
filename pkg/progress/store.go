// Package progress tracks how far the relay has advanced on the source
// chain and which deposit events have already been handled.
package progress

import "fmt"

// OrderingViolation indicates an attempt to move the processed height
// backwards. It points at a caller bug and is treated as fatal.
type OrderingViolation struct {
	Have      uint64
	Requested uint64
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("cannot advance to height %d: already at %d", e.Requested, e.Have)
}

// Store records relay progress. Only the orchestrator may call mutators.
// LastProcessedHeight is monotonically non-decreasing and the processed key
// set only grows; a key reported processed must never be handled again.
type Store interface {
	LastProcessedHeight() (uint64, error)
	IsProcessed(key string) (bool, error)
	// MarkProcessed is idempotent: re-marking a key is a no-op.
	MarkProcessed(key string) error
	// AdvanceTo fails with OrderingViolation if height precedes the
	// current processed height, leaving state unchanged.
	AdvanceTo(height uint64) error
	Close() error
}

// MemStore is the process-lifetime Store. State is lost on restart, so the
// no-reprocessing guarantee only holds within a single run.
type MemStore struct {
	lastHeight uint64
	processed  map[string]struct{}
}

// NewMemStore seeds an in-memory store at startHeight.
func NewMemStore(startHeight uint64) *MemStore {
	return &MemStore{
		lastHeight: startHeight,
		processed:  make(map[string]struct{}),
	}
}

func (s *MemStore) LastProcessedHeight() (uint64, error) {
	return s.lastHeight, nil
}

func (s *MemStore) IsProcessed(key string) (bool, error) {
	_, ok := s.processed[key]
	return ok, nil
}

func (s *MemStore) MarkProcessed(key string) error {
	s.processed[key] = struct{}{}
	return nil
}

func (s *MemStore) AdvanceTo(height uint64) error {
	if height < s.lastHeight {
		return &OrderingViolation{Have: s.lastHeight, Requested: height}
	}
	s.lastHeight = height
	return nil
}

func (s *MemStore) Close() error { return nil }
