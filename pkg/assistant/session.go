package assistant

import (
	"context"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/id"
)

// Session holds the process-lifetime assistant state: the assistant handle and
// one conversation thread per room. Threads live in memory only and are lost
// when the process stops.
type Session struct {
	provider Provider
	def      Definition

	mu          sync.Mutex
	assistantID string
	threads     map[id.RoomID]string
}

// NewSession creates a session. If assistantID is empty, an assistant is
// created from def on first use.
func NewSession(provider Provider, def Definition, assistantID string) *Session {
	return &Session{
		provider:    provider,
		def:         def,
		assistantID: assistantID,
		threads:     make(map[id.RoomID]string),
	}
}

// AssistantID returns the assistant to run, creating it if necessary.
func (s *Session) AssistantID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assistantID != "" {
		return s.assistantID, nil
	}
	assistantID, err := s.provider.CreateAssistant(ctx, s.def)
	if err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}
	s.assistantID = assistantID
	return assistantID, nil
}

// Thread returns the room's thread, creating it on first use.
func (s *Session) Thread(ctx context.Context, roomID id.RoomID) (threadID string, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threadID, ok := s.threads[roomID]; ok {
		return threadID, false, nil
	}
	threadID, err = s.provider.CreateThread(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to create thread: %w", err)
	}
	s.threads[roomID] = threadID
	return threadID, true, nil
}

// Close forgets all threads. The provider keeps them; this process won't reuse them.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.threads)
}
