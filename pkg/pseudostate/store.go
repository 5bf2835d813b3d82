// Package pseudostate persists arbitrary JSON records scoped to (room, type key).
//
// The bot cannot write real room state, so these stores stand in for it. None
// of them version or lock records: concurrent writers to the same key are
// last-write-wins.
package pseudostate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/matrixtransport"
)

// Store is the pseudo-state contract.
type Store interface {
	// Get decodes the record into out. found is false if no record exists.
	Get(ctx context.Context, scopeID id.RoomID, typeKey string, out any) (found bool, err error)
	Set(ctx context.Context, scopeID id.RoomID, typeKey string, value any) error
}

var ErrMissingScope = errors.New("pseudo-state scope and type key are required")

func validateKey(scopeID id.RoomID, typeKey string) error {
	if scopeID == "" || typeKey == "" {
		return ErrMissingScope
	}
	return nil
}

// AccountDataStore keeps records in the bot's per-room account data.
type AccountDataStore struct {
	Transport matrixtransport.Transport
}

var _ Store = (*AccountDataStore)(nil)

func NewAccountDataStore(transport matrixtransport.Transport) *AccountDataStore {
	return &AccountDataStore{Transport: transport}
}

func (s *AccountDataStore) Get(ctx context.Context, scopeID id.RoomID, typeKey string, out any) (bool, error) {
	if err := validateKey(scopeID, typeKey); err != nil {
		return false, err
	}
	return s.Transport.GetRoomAccountData(ctx, scopeID, typeKey, out)
}

func (s *AccountDataStore) Set(ctx context.Context, scopeID id.RoomID, typeKey string, value any) error {
	if err := validateKey(scopeID, typeKey); err != nil {
		return err
	}
	return s.Transport.SetRoomAccountData(ctx, scopeID, typeKey, value)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]json.RawMessage)}
}

func memoryKey(scopeID id.RoomID, typeKey string) string {
	return string(scopeID) + "\x00" + typeKey
}

func (s *MemoryStore) Get(_ context.Context, scopeID id.RoomID, typeKey string, out any) (bool, error) {
	if err := validateKey(scopeID, typeKey); err != nil {
		return false, err
	}
	s.mu.RLock()
	data, ok := s.records[memoryKey(scopeID, typeKey)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s record: %w", typeKey, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, scopeID id.RoomID, typeKey string, value any) error {
	if err := validateKey(scopeID, typeKey); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", typeKey, err)
	}
	s.mu.Lock()
	s.records[memoryKey(scopeID, typeKey)] = data
	s.mu.Unlock()
	return nil
}
