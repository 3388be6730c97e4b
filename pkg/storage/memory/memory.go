// Package memory provides an in-memory storage.Store for testing and
// lightweight deployments. Data is lost when the process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/storage"
)

// Store is an in-memory message store and usage recorder.
type Store struct {
	mu            sync.RWMutex
	messages      map[string]*entry
	conversations map[string][]string
	usage         []storage.UsageRecord
}

type entry struct {
	msg      storage.Message
	tenantID string
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		messages:      make(map[string]*entry),
		conversations: make(map[string][]string),
	}
}

// SaveMessage persists a message, assigning its id and timestamp.
func (s *Store) SaveMessage(ctx context.Context, params storage.SaveMessageParams) (*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := storage.Message{
		ID:                   api.NewMessageID(),
		ConversationID:       params.ConversationID,
		Role:                 params.Role,
		Content:              params.Content,
		ModelConfigurationID: params.ModelConfigurationID,
		ParentID:             params.ParentID,
		VariantIndex:         params.VariantIndex,
		Metadata:             params.Metadata,
		CreatedAt:            time.Now().UTC(),
	}

	s.messages[msg.ID] = &entry{msg: msg, tenantID: storage.GetTenant(ctx)}
	s.conversations[msg.ConversationID] = append(s.conversations[msg.ConversationID], msg.ID)

	saved := msg
	return &saved, nil
}

// GetMessage retrieves a message by id, scoped by tenant when one is
// present in the context.
func (s *Store) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if tenantID := storage.GetTenant(ctx); tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	msg := e.msg
	return &msg, nil
}

// ListConversation returns a conversation's messages in creation order.
func (s *Store) ListConversation(ctx context.Context, conversationID string) ([]storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)
	ids := s.conversations[conversationID]
	messages := make([]storage.Message, 0, len(ids))
	for _, id := range ids {
		e := s.messages[id]
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		messages = append(messages, e.msg)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// RecordUsage appends a usage record.
func (s *Store) RecordUsage(ctx context.Context, rec storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
	return nil
}

// Usage returns a copy of all recorded usage, for inspection in tests.
func (s *Store) Usage() []storage.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
