package chat

// CandidateStatus tracks one candidate's lifecycle. Transitions are
// monotonic: streaming -> completed|failed -> selected. Selected is only
// reachable by explicit user action, never automatically.
type CandidateStatus string

const (
	CandidateStreaming CandidateStatus = "streaming"
	CandidateCompleted CandidateStatus = "completed"
	CandidateFailed    CandidateStatus = "failed"
	CandidateSelected  CandidateStatus = "selected"
)

func (s CandidateStatus) Terminal() bool {
	return s == CandidateCompleted || s == CandidateFailed || s == CandidateSelected
}

func (s CandidateStatus) CanTransitionTo(next CandidateStatus) bool {
	switch s {
	case CandidateStreaming:
		return next == CandidateCompleted || next == CandidateFailed
	case CandidateCompleted, CandidateFailed:
		return next == CandidateSelected
	default:
		return false
	}
}

// Candidate is one (message, model) entry of a response group.
type Candidate struct {
	MessageID string          `json:"message_id"`
	Model     string          `json:"model"`
	Status    CandidateStatus `json:"status"`
}

// ResponseGroup fans one user turn out into parallel candidate responses,
// exactly one of which the user eventually keeps.
type ResponseGroup struct {
	ID                string      `json:"id"`
	UserMessageID     string      `json:"user_message_id"`
	Candidates        []Candidate `json:"candidates"`
	SelectedMessageID string      `json:"selected_message_id,omitempty"`
}

func (g *ResponseGroup) HasSelection() bool {
	return g != nil && g.SelectedMessageID != ""
}

func (g *ResponseGroup) Candidate(messageID string) (*Candidate, bool) {
	if g == nil {
		return nil, false
	}
	for i := range g.Candidates {
		if g.Candidates[i].MessageID == messageID {
			return &g.Candidates[i], true
		}
	}
	return nil, false
}

func (g *ResponseGroup) Clone() *ResponseGroup {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Candidates = append([]Candidate(nil), g.Candidates...)
	return &clone
}
