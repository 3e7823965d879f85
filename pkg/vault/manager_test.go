package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oakmere/chatvault/pkg/chat"
)

func newTestManager(t *testing.T, store *flakyStore, debounce time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		Store:        store,
		Debounce:     debounce,
		DefaultModel: "gpt",
		KnownModels:  []string{"gpt", "claude"},
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestManager_CreateGetListDelete(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, testDebounce)
	ctx := context.Background()

	a := m.Create("first", "")
	require.Equal(t, "gpt", a.Model, "empty model falls back to the default")
	b := m.Create("second", "claude")

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, "first", got.Title)
	_, ok = m.Get("missing")
	require.False(t, ok)

	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, b.ID, list[0].ID, "newest first")

	require.NoError(t, m.Delete(ctx, a.ID))
	require.Equal(t, 1, m.Count())
	require.ErrorIs(t, m.Delete(ctx, a.ID), ErrConversationNotFound)
}

func TestManager_GetReturnsCopy(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, testDebounce)

	c := m.Create("t", "gpt")
	got, ok := m.Get(c.ID)
	require.True(t, ok)
	got.Title = "mutated"

	again, ok := m.Get(c.ID)
	require.True(t, ok)
	require.Equal(t, "t", again.Title)
}

func TestManager_MutationsMarkDirtyAndPersist(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, testDebounce)

	c := m.Create("t", "gpt")
	require.True(t, m.IsDirty(c.ID))
	require.NoError(t, m.Rename(c.ID, "renamed"))
	_, err := m.AppendMessage(c.ID, chat.RoleUser, "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.IsDirty(c.ID)
	}, time.Second, 5*time.Millisecond)

	saved, ok := store.Get(c.ID)
	require.True(t, ok)
	require.Equal(t, "renamed", saved.Title)
	require.Len(t, saved.Messages, 1)
}

func TestManager_UpdatedAtBumpedOnEveryMutation(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, time.Minute)

	c := m.Create("t", "gpt")
	before := c.UpdatedAt
	require.NoError(t, m.Rename(c.ID, "r"))
	after, _ := m.Get(c.ID)
	require.True(t, after.UpdatedAt.After(before))
}

func TestManager_SelectResponsePersistsImmediately(t *testing.T) {
	store := newFlakyStore()
	// debounce far in the future: only the immediate path may write
	m := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	c := m.Create("t", "gpt")
	group, err := m.StartResponseGroup(c.ID, "hi", []string{"gpt", "claude"})
	require.NoError(t, err)
	a := group.Candidates[0].MessageID
	b := group.Candidates[1].MessageID
	require.NoError(t, m.CompleteCandidate(c.ID, group.ID, a))
	require.NoError(t, m.CompleteCandidate(c.ID, group.ID, b))

	require.NoError(t, m.SelectResponse(ctx, c.ID, group.ID, b))

	saved, ok := store.Get(c.ID)
	require.True(t, ok)
	require.Equal(t, b, saved.ResponseGroups[0].SelectedMessageID)

	history, err := m.EffectiveHistory(c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, b, history[1].ID)
}

func TestManager_EffectiveHistoryUnknownConversation(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, testDebounce)
	_, err := m.EffectiveHistory("missing")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestManager_WipeDiscardsEverything(t *testing.T) {
	store := newFlakyStore()
	m := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	a := m.Create("a", "gpt")
	m.Create("b", "gpt")
	require.NoError(t, m.Wipe(ctx))

	require.Zero(t, m.Count())
	require.Zero(t, store.Len())
	require.Empty(t, m.PendingConversationIDs())

	// cancelled debounce timers must not resurrect anything
	time.Sleep(3 * testDebounce)
	require.Zero(t, store.Len())
	_, ok := m.Get(a.ID)
	require.False(t, ok)
}
