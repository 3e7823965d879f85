package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Contract violations. Selecting an unknown candidate or linearizing a
// dangling group reference is a programming error and fails loudly instead
// of producing an inconsistent history.
var (
	ErrGroupNotFound     = errors.New("chat: response group not found")
	ErrCandidateNotFound = errors.New("chat: candidate not found in group")
	ErrMessageNotFound   = errors.New("chat: message not found")
	ErrDanglingGroup     = errors.New("chat: message references unknown response group")
	ErrBadTransition     = errors.New("chat: invalid candidate status transition")
)

// Conversation is an ordered, mutable record of a chat session. Message
// insertion order is chronological order. While loaded it is owned
// exclusively by the in-memory list; the durable store holds the
// last-flushed copy.
type Conversation struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Model          string           `json:"model"`
	Messages       []*Message       `json:"messages"`
	ResponseGroups []*ResponseGroup `json:"response_groups,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func NewConversation(title, model string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt. The timestamp is monotonically non-decreasing even
// when the wall clock stalls within one tick.
func (c *Conversation) Touch() {
	now := time.Now()
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

func (c *Conversation) Message(id string) (*Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func (c *Conversation) Group(groupID string) (*ResponseGroup, bool) {
	for _, g := range c.ResponseGroups {
		if g.ID == groupID {
			return g, true
		}
	}
	return nil, false
}

// AppendMessage appends an ungrouped message and bumps UpdatedAt.
func (c *Conversation) AppendMessage(m *Message) {
	if m == nil {
		return
	}
	c.Messages = append(c.Messages, m)
	c.Touch()
}

// BeginResponseGroup appends the triggering user message, one streaming
// placeholder per model and the group itself as a single mutation, so no
// observer ever sees a partially populated group.
func (c *Conversation) BeginResponseGroup(userText string, models []string) (*ResponseGroup, error) {
	if len(models) == 0 {
		return nil, errors.New("chat: response group needs at least one model")
	}
	userMsg := NewMessage(RoleUser, userText)
	group := &ResponseGroup{
		ID:            uuid.NewString(),
		UserMessageID: userMsg.ID,
		Candidates:    make([]Candidate, 0, len(models)),
	}
	placeholders := make([]*Message, 0, len(models))
	for _, model := range models {
		ph := NewMessage(RoleAssistant, "")
		ph.ResponseGroupID = group.ID
		placeholders = append(placeholders, ph)
		group.Candidates = append(group.Candidates, Candidate{
			MessageID: ph.ID,
			Model:     model,
			Status:    CandidateStreaming,
		})
	}
	c.Messages = append(c.Messages, userMsg)
	c.Messages = append(c.Messages, placeholders...)
	c.ResponseGroups = append(c.ResponseGroups, group)
	c.Touch()
	return group, nil
}

// AppendCandidateContent appends one streamed chunk to the placeholder with
// the given id. Candidate ids are disjoint, so no cross-candidate
// interference is possible.
func (c *Conversation) AppendCandidateContent(messageID, chunk string) error {
	m, ok := c.Message(messageID)
	if !ok {
		return errors.Wrap(ErrMessageNotFound, messageID)
	}
	m.AppendContent(chunk)
	c.Touch()
	return nil
}

// CompleteCandidate marks a streaming candidate completed. Completion never
// auto-advances to selected.
func (c *Conversation) CompleteCandidate(groupID, messageID string) error {
	return c.finishCandidate(groupID, messageID, CandidateCompleted)
}

// FailCandidate marks a streaming candidate failed.
func (c *Conversation) FailCandidate(groupID, messageID string) error {
	return c.finishCandidate(groupID, messageID, CandidateFailed)
}

func (c *Conversation) finishCandidate(groupID, messageID string, status CandidateStatus) error {
	group, ok := c.Group(groupID)
	if !ok {
		return errors.Wrap(ErrGroupNotFound, groupID)
	}
	cand, ok := group.Candidate(messageID)
	if !ok {
		return errors.Wrap(ErrCandidateNotFound, messageID)
	}
	if !cand.Status.CanTransitionTo(status) {
		return errors.Wrapf(ErrBadTransition, "%s -> %s", cand.Status, status)
	}
	cand.Status = status
	c.Touch()
	return nil
}

// SelectResponse collapses a group to the chosen candidate. The winner's
// deferred tool call, if any, is promoted to its active slot; every
// sibling's deferred and active tool calls are discarded since those
// branches leave the causal history. Re-selection overwrites a previous
// selection: the prior winner is demoted back to completed and only the
// current SelectedMessageID decides linearization. If the prior branch
// already executed a tool its side effects are not undone here.
func (c *Conversation) SelectResponse(groupID, messageID string) error {
	group, ok := c.Group(groupID)
	if !ok {
		return errors.Wrap(ErrGroupNotFound, groupID)
	}
	cand, ok := group.Candidate(messageID)
	if !ok {
		return errors.Wrap(ErrCandidateNotFound, messageID)
	}
	if cand.Status == CandidateStreaming {
		return errors.Wrapf(ErrBadTransition, "cannot select streaming candidate %s", messageID)
	}
	cand.Status = CandidateSelected
	group.SelectedMessageID = messageID

	for i := range group.Candidates {
		sibling := &group.Candidates[i]
		msg, ok := c.Message(sibling.MessageID)
		if !ok {
			return errors.Wrap(ErrMessageNotFound, sibling.MessageID)
		}
		if sibling.MessageID == messageID {
			msg.SelectedResponse = true
			if msg.PendingToolCall != nil {
				msg.ToolCall = msg.PendingToolCall
				msg.PendingToolCall = nil
			}
			continue
		}
		msg.SelectedResponse = false
		msg.PendingToolCall = nil
		msg.ToolCall = nil
		if sibling.Status == CandidateSelected {
			sibling.Status = CandidateCompleted
		}
	}
	c.Touch()
	return nil
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		clone.Messages = append(clone.Messages, m.Clone())
	}
	clone.ResponseGroups = make([]*ResponseGroup, 0, len(c.ResponseGroups))
	for _, g := range c.ResponseGroups {
		clone.ResponseGroups = append(clone.ResponseGroups, g.Clone())
	}
	return &clone
}
