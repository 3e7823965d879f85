package vault

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oakmere/chatvault/pkg/chat"
	"github.com/oakmere/chatvault/pkg/persistence/convstore"
)

// Reconcile merges the durable snapshot with uncommitted in-memory
// mutations using the dirty-wins rule: a dirty conversation may be mutated
// in memory (mid-stream, say) at the exact moment a reload triggers, and
// disk-wins for it would silently discard the in-flight mutation. Non-dirty
// ids always defer to disk, which may reflect corrections memory does not
// know about. The result becomes the new authoritative list, sorted by
// UpdatedAt descending, and the index cache is rebuilt.
//
// A corrupt store read is recovered destructively: the store is cleared and
// the list starts empty, since partial recovery against an unreadable
// backing file risks silently losing or duplicating conversations.
func (m *Manager) Reconcile(ctx context.Context) error {
	disk, err := m.coord.store.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, convstore.ErrCorrupt) {
			log.Error().Err(err).Msg("conversation store corrupt, clearing all state (data loss)")
			if clearErr := m.coord.Clear(ctx); clearErr != nil {
				return errors.Wrap(clearErr, "vault: clear corrupt store")
			}
			m.lock()
			m.list = nil
			m.cache.Rebuild(nil)
			m.unlock()
			return nil
		}
		return errors.Wrap(err, "vault: load conversations")
	}

	// Self-heal conversations whose recorded model no longer exists. This
	// is independent of dirty-wins and not surfaced as an error.
	for _, doc := range disk {
		if _, ok := m.knownModels[doc.Model]; !ok && m.defaultModel != "" {
			log.Debug().Str("conv_id", doc.ID).Str("model", doc.Model).Str("default", m.defaultModel).
				Msg("rewriting stale model reference")
			doc.Model = m.defaultModel
			m.coord.EnqueueSave(doc)
		}
	}

	dirty := map[string]struct{}{}
	for _, id := range m.coord.PendingConversationIDs() {
		dirty[id] = struct{}{}
	}

	m.lock()
	defer m.unlock()

	memoryByID := make(map[string]*chat.Conversation, len(m.list))
	for _, c := range m.list {
		memoryByID[c.ID] = c
	}

	merged := make([]*chat.Conversation, 0, len(disk)+len(dirty))
	seen := map[string]struct{}{}
	for _, doc := range disk {
		if _, isDirty := dirty[doc.ID]; isDirty {
			if mem, ok := memoryByID[doc.ID]; ok {
				merged = append(merged, mem)
				seen[doc.ID] = struct{}{}
				continue
			}
		}
		merged = append(merged, doc)
		seen[doc.ID] = struct{}{}
	}
	// Dirty ids never flushed to disk keep their in-memory documents.
	for id := range dirty {
		if _, ok := seen[id]; ok {
			continue
		}
		if mem, ok := memoryByID[id]; ok {
			merged = append(merged, mem)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})

	m.list = merged
	m.cache.Rebuild(m.list)
	log.Info().Int("conversations", len(m.list)).Int("dirty", len(dirty)).Msg("reconciled conversation list")
	return nil
}
