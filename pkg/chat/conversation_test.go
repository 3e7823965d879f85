package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversation_TouchIsMonotonic(t *testing.T) {
	c := NewConversation("t", "gpt")
	prev := c.UpdatedAt
	for i := 0; i < 1000; i++ {
		c.Touch()
		require.True(t, c.UpdatedAt.After(prev))
		prev = c.UpdatedAt
	}
}

func TestConversation_BeginResponseGroup(t *testing.T) {
	c := NewConversation("t", "gpt")

	_, err := c.BeginResponseGroup("hello", nil)
	require.Error(t, err)

	group, err := c.BeginResponseGroup("hello", []string{"gpt", "claude"})
	require.NoError(t, err)
	require.Len(t, c.Messages, 3)
	require.Len(t, c.ResponseGroups, 1)
	require.Equal(t, RoleUser, c.Messages[0].Role)
	require.Equal(t, c.Messages[0].ID, group.UserMessageID)
	require.Len(t, group.Candidates, 2)
	for i, cand := range group.Candidates {
		msg, ok := c.Message(cand.MessageID)
		require.True(t, ok)
		require.Equal(t, RoleAssistant, msg.Role)
		require.Equal(t, group.ID, msg.ResponseGroupID)
		require.Empty(t, msg.Content)
		require.Equal(t, CandidateStreaming, cand.Status)
		require.Equal(t, []string{"gpt", "claude"}[i], cand.Model)
	}
}

func TestConversation_StreamingTargetsOneCandidate(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt", "claude"})
	require.NoError(t, err)

	a := group.Candidates[0].MessageID
	b := group.Candidates[1].MessageID
	require.NoError(t, c.AppendCandidateContent(a, "Hel"))
	require.NoError(t, c.AppendCandidateContent(a, "lo"))
	require.NoError(t, c.AppendCandidateContent(b, "Hey"))

	msgA, _ := c.Message(a)
	msgB, _ := c.Message(b)
	require.Equal(t, "Hello", msgA.Content)
	require.Equal(t, "Hey", msgB.Content)

	err = c.AppendCandidateContent("nope", "x")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestConversation_CandidateTransitionsAreMonotonic(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt"})
	require.NoError(t, err)
	id := group.Candidates[0].MessageID

	require.NoError(t, c.CompleteCandidate(group.ID, id))
	// completed does not go back to failed, nor complete twice
	require.ErrorIs(t, c.CompleteCandidate(group.ID, id), ErrBadTransition)
	require.ErrorIs(t, c.FailCandidate(group.ID, id), ErrBadTransition)

	require.ErrorIs(t, c.CompleteCandidate("missing", id), ErrGroupNotFound)
	require.ErrorIs(t, c.CompleteCandidate(group.ID, "missing"), ErrCandidateNotFound)
}

func TestConversation_SelectionNeverAutomatic(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt"})
	require.NoError(t, err)
	id := group.Candidates[0].MessageID
	require.NoError(t, c.CompleteCandidate(group.ID, id))

	cand, ok := group.Candidate(id)
	require.True(t, ok)
	require.Equal(t, CandidateCompleted, cand.Status)
	require.False(t, group.HasSelection())
}

func TestConversation_SelectResponse(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt", "claude"})
	require.NoError(t, err)
	a := group.Candidates[0].MessageID
	b := group.Candidates[1].MessageID
	require.NoError(t, c.CompleteCandidate(group.ID, a))
	require.NoError(t, c.CompleteCandidate(group.ID, b))

	require.ErrorIs(t, c.SelectResponse("missing", a), ErrGroupNotFound)
	require.ErrorIs(t, c.SelectResponse(group.ID, "missing"), ErrCandidateNotFound)

	require.NoError(t, c.SelectResponse(group.ID, b))
	require.Equal(t, b, group.SelectedMessageID)

	candA, _ := group.Candidate(a)
	candB, _ := group.Candidate(b)
	require.Equal(t, CandidateCompleted, candA.Status)
	require.Equal(t, CandidateSelected, candB.Status)

	msgA, _ := c.Message(a)
	msgB, _ := c.Message(b)
	require.False(t, msgA.SelectedResponse)
	require.True(t, msgB.SelectedResponse)
}

func TestConversation_SelectStreamingCandidateFails(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt"})
	require.NoError(t, err)
	err = c.SelectResponse(group.ID, group.Candidates[0].MessageID)
	require.ErrorIs(t, err, ErrBadTransition)
}

func TestConversation_SelectPromotesDeferredToolCall(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("run it", []string{"gpt", "claude"})
	require.NoError(t, err)
	a := group.Candidates[0].MessageID
	b := group.Candidates[1].MessageID

	msgA, _ := c.Message(a)
	msgB, _ := c.Message(b)
	msgA.PendingToolCall = &ToolCall{ID: "ta", Name: "sh", Arguments: `{"cmd":"ls"}`}
	msgB.PendingToolCall = &ToolCall{ID: "tb", Name: "sh", Arguments: `{"cmd":"rm"}`}
	require.NoError(t, c.CompleteCandidate(group.ID, a))
	require.NoError(t, c.CompleteCandidate(group.ID, b))

	require.NoError(t, c.SelectResponse(group.ID, a))

	// winner: deferred payload promoted to the active slot
	require.Nil(t, msgA.PendingToolCall)
	require.NotNil(t, msgA.ToolCall)
	require.Equal(t, "ta", msgA.ToolCall.ID)

	// discarded branch: no tool call may ever reach approval
	require.Nil(t, msgB.PendingToolCall)
	require.Nil(t, msgB.ToolCall)
}

func TestConversation_Clone_IsDeep(t *testing.T) {
	c := NewConversation("t", "gpt")
	group, err := c.BeginResponseGroup("hi", []string{"gpt"})
	require.NoError(t, err)
	id := group.Candidates[0].MessageID

	clone := c.Clone()
	require.NoError(t, c.AppendCandidateContent(id, "mutated"))
	require.NoError(t, c.CompleteCandidate(group.ID, id))

	cloneMsg, ok := clone.Message(id)
	require.True(t, ok)
	require.Empty(t, cloneMsg.Content)
	cloneCand, ok := clone.ResponseGroups[0].Candidate(id)
	require.True(t, ok)
	require.Equal(t, CandidateStreaming, cloneCand.Status)
}
