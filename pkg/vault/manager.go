package vault

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oakmere/chatvault/pkg/chat"
	"github.com/oakmere/chatvault/pkg/persistence/convstore"
)

var ErrConversationNotFound = errors.New("vault: conversation not found")

// ManagerOptions configures a Manager. Store is required; Publisher may be
// nil when no failure notifications are wanted.
type ManagerOptions struct {
	Store        convstore.ConversationStore
	Publisher    message.Publisher
	Debounce     time.Duration
	DefaultModel string
	KnownModels  []string
}

// Manager is the single logical owner of the authoritative in-memory
// conversation list. One mutex serializes all structural mutations, so no
// two of them interleave; the save coordinator performs store I/O
// concurrently with these mutations.
type Manager struct {
	mu    sync.Mutex
	list  []*chat.Conversation
	cache *indexCache
	coord *SaveCoordinator

	defaultModel string
	knownModels  map[string]struct{}
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	coord, err := NewSaveCoordinator(opts.Store, opts.Publisher, opts.Debounce)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(opts.KnownModels))
	for _, m := range opts.KnownModels {
		known[m] = struct{}{}
	}
	if opts.DefaultModel != "" {
		known[opts.DefaultModel] = struct{}{}
	}
	m := &Manager{
		cache:        newIndexCache(),
		coord:        coord,
		defaultModel: opts.DefaultModel,
		knownModels:  known,
	}
	return m, nil
}

func (m *Manager) lock()   { m.mu.Lock() }
func (m *Manager) unlock() { m.mu.Unlock() }

// Coordinator exposes the persistence coordinator to collaborators.
func (m *Manager) Coordinator() *SaveCoordinator { return m.coord }

// Close stops the coordinator; pending debounced writes are discarded.
func (m *Manager) Close() { m.coord.Close() }

// Create inserts a new conversation at the front of the list and schedules
// its first write.
func (m *Manager) Create(title, model string) *chat.Conversation {
	if model == "" {
		model = m.defaultModel
	}
	c := chat.NewConversation(title, model)

	m.lock()
	m.list = append([]*chat.Conversation{c}, m.list...)
	m.cache.OnInsert(c.ID, 0)
	m.coord.EnqueueSave(c)
	m.unlock()
	return c.Clone()
}

// Get returns a deep copy of one conversation.
func (m *Manager) Get(id string) (*chat.Conversation, bool) {
	m.lock()
	defer m.unlock()
	idx, ok := m.cache.IndexOf(m.list, id)
	if !ok {
		return nil, false
	}
	return m.list[idx].Clone(), true
}

// List returns deep copies of all conversations in list order.
func (m *Manager) List() []*chat.Conversation {
	m.lock()
	defer m.unlock()
	out := make([]*chat.Conversation, 0, len(m.list))
	for _, c := range m.list {
		out = append(out, c.Clone())
	}
	return out
}

func (m *Manager) Count() int {
	m.lock()
	defer m.unlock()
	return len(m.list)
}

// Rename sets a conversation title.
func (m *Manager) Rename(id, title string) error {
	return m.mutate(id, func(c *chat.Conversation) error {
		c.Title = title
		c.Touch()
		return nil
	})
}

// AppendMessage appends an ungrouped message and returns a copy of it.
func (m *Manager) AppendMessage(id string, role chat.Role, content string) (*chat.Message, error) {
	var appended *chat.Message
	err := m.mutate(id, func(c *chat.Conversation) error {
		msg := chat.NewMessage(role, content)
		c.AppendMessage(msg)
		appended = msg.Clone()
		return nil
	})
	return appended, err
}

// StartResponseGroup fans a user turn out into one placeholder per model.
func (m *Manager) StartResponseGroup(id, userText string, models []string) (*chat.ResponseGroup, error) {
	var group *chat.ResponseGroup
	err := m.mutate(id, func(c *chat.Conversation) error {
		g, err := c.BeginResponseGroup(userText, models)
		if err != nil {
			return err
		}
		group = g.Clone()
		return nil
	})
	return group, err
}

// AppendCandidateContent appends a streamed chunk to one placeholder.
func (m *Manager) AppendCandidateContent(id, messageID, chunk string) error {
	return m.mutate(id, func(c *chat.Conversation) error {
		return c.AppendCandidateContent(messageID, chunk)
	})
}

// SetCandidateContent replaces a placeholder's content with the final text
// reported at a candidate's terminal update.
func (m *Manager) SetCandidateContent(id, messageID, content string) error {
	return m.mutate(id, func(c *chat.Conversation) error {
		msg, ok := c.Message(messageID)
		if !ok {
			return errors.Wrap(chat.ErrMessageNotFound, messageID)
		}
		msg.Content = content
		c.Touch()
		return nil
	})
}

func (m *Manager) CompleteCandidate(id, groupID, messageID string) error {
	return m.mutate(id, func(c *chat.Conversation) error {
		return c.CompleteCandidate(groupID, messageID)
	})
}

func (m *Manager) FailCandidate(id, groupID, messageID string) error {
	return m.mutate(id, func(c *chat.Conversation) error {
		return c.FailCandidate(groupID, messageID)
	})
}

// SelectResponse collapses a response group to the chosen candidate and
// persists immediately: a selection is a user decision, not a burst.
func (m *Manager) SelectResponse(ctx context.Context, id, groupID, messageID string) error {
	var snapshot *chat.Conversation
	m.lock()
	idx, ok := m.cache.IndexOf(m.list, id)
	if !ok {
		m.unlock()
		return errors.Wrap(ErrConversationNotFound, id)
	}
	c := m.list[idx]
	if err := c.SelectResponse(groupID, messageID); err != nil {
		m.unlock()
		return err
	}
	snapshot = c.Clone()
	m.unlock()
	return m.coord.SaveImmediately(ctx, snapshot)
}

// EffectiveHistory returns the linear sequence handed to a backend request.
func (m *Manager) EffectiveHistory(id string) ([]*chat.Message, error) {
	m.lock()
	defer m.unlock()
	idx, ok := m.cache.IndexOf(m.list, id)
	if !ok {
		return nil, errors.Wrap(ErrConversationNotFound, id)
	}
	history, err := m.list[idx].EffectiveHistory()
	if err != nil {
		return nil, err
	}
	out := make([]*chat.Message, 0, len(history))
	for _, msg := range history {
		out = append(out, msg.Clone())
	}
	return out, nil
}

// Delete removes a conversation from memory and the store. Pending
// debounced writes for it are cancelled first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.lock()
	idx, ok := m.cache.IndexOf(m.list, id)
	if !ok {
		m.unlock()
		return errors.Wrap(ErrConversationNotFound, id)
	}
	m.list = append(m.list[:idx], m.list[idx+1:]...)
	m.cache.OnRemove(id, idx)
	m.unlock()
	return m.coord.Delete(ctx, id)
}

// Wipe discards every conversation, in memory and on disk.
func (m *Manager) Wipe(ctx context.Context) error {
	m.lock()
	m.list = nil
	m.cache.Rebuild(nil)
	m.unlock()
	if err := m.coord.Clear(ctx); err != nil {
		return err
	}
	log.Info().Msg("conversation store wiped")
	return nil
}

func (m *Manager) IsDirty(id string) bool { return m.coord.IsDirty(id) }

// PendingConversationIDs reports identifiers with unflushed mutations.
func (m *Manager) PendingConversationIDs() []string {
	return m.coord.PendingConversationIDs()
}

// mutate runs fn against the live document and schedules a debounced save.
func (m *Manager) mutate(id string, fn func(*chat.Conversation) error) error {
	m.lock()
	defer m.unlock()
	idx, ok := m.cache.IndexOf(m.list, id)
	if !ok {
		return errors.Wrap(ErrConversationNotFound, id)
	}
	c := m.list[idx]
	if err := fn(c); err != nil {
		return err
	}
	m.coord.EnqueueSave(c)
	return nil
}
