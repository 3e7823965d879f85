package convstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/oakmere/chatvault/pkg/chat"
)

// InMemoryConversationStore is an ephemeral ConversationStore. It clones
// documents on the way in and out so callers never share mutable state with
// the store.
type InMemoryConversationStore struct {
	mu   sync.Mutex
	docs map[string]*chat.Conversation
}

var _ ConversationStore = &InMemoryConversationStore{}

func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{docs: map[string]*chat.Conversation{}}
}

func (s *InMemoryConversationStore) Close() error { return nil }

func (s *InMemoryConversationStore) LoadAll(_ context.Context) ([]*chat.Conversation, error) {
	if s == nil {
		return nil, errors.New("in-memory conversation store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chat.Conversation, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *InMemoryConversationStore) Save(_ context.Context, doc *chat.Conversation) error {
	if s == nil {
		return errors.New("in-memory conversation store: nil store")
	}
	if doc == nil {
		return errors.New("in-memory conversation store: doc is nil")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return errors.New("in-memory conversation store: doc id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryConversationStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return errors.New("in-memory conversation store: nil store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("in-memory conversation store: id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *InMemoryConversationStore) Clear(_ context.Context) error {
	if s == nil {
		return errors.New("in-memory conversation store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = map[string]*chat.Conversation{}
	return nil
}

// Get returns the stored copy of one document, for tests and tooling.
func (s *InMemoryConversationStore) Get(id string) (*chat.Conversation, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Len reports the number of stored documents.
func (s *InMemoryConversationStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
