package chat

import "github.com/pkg/errors"

// EffectiveHistory derives the linear message sequence handed to a backend
// request, with all branching collapsed. Ungrouped messages are always
// included. A grouped message is included while its group has no selection
// yet (all live candidates, provisionally) or once it is the selected one.
// Everything else is excluded. A dangling group reference fails loudly.
func (c *Conversation) EffectiveHistory() ([]*Message, error) {
	groupsByID := make(map[string]*ResponseGroup, len(c.ResponseGroups))
	for _, g := range c.ResponseGroups {
		groupsByID[g.ID] = g
	}
	out := make([]*Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.ResponseGroupID == "" {
			out = append(out, m)
			continue
		}
		group, ok := groupsByID[m.ResponseGroupID]
		if !ok {
			return nil, errors.Wrapf(ErrDanglingGroup, "message %s references group %s", m.ID, m.ResponseGroupID)
		}
		if !group.HasSelection() || group.SelectedMessageID == m.ID {
			out = append(out, m)
		}
	}
	return out, nil
}
