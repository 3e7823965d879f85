package vault

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oakmere/chatvault/pkg/chat"
	"github.com/oakmere/chatvault/pkg/eventbus"
	"github.com/oakmere/chatvault/pkg/fanout"
)

// GenerateCandidates fans one user turn out across the given generators.
// It creates the response group atomically, launches every generation
// concurrently, streams deltas into each candidate's own placeholder, and
// records terminal states. The returned channel receives the aggregate
// summary exactly once; a group_done event is broadcast at the same point.
// Selection stays with the user, it is never made here.
func (m *Manager) GenerateCandidates(ctx context.Context, convID, userText string, generators []fanout.Generator) (*chat.ResponseGroup, <-chan fanout.Summary, error) {
	if len(generators) == 0 {
		return nil, nil, errors.New("vault: no generators")
	}
	models := make([]string, 0, len(generators))
	for _, g := range generators {
		models = append(models, g.Model())
	}
	group, err := m.StartResponseGroup(convID, userText, models)
	if err != nil {
		return nil, nil, err
	}

	// The request history for this turn is the effective history up to the
	// user message, without this group's own empty placeholders.
	full, err := m.EffectiveHistory(convID)
	if err != nil {
		return nil, nil, err
	}
	history := make([]*chat.Message, 0, len(full))
	for _, msg := range full {
		if msg.ResponseGroupID == group.ID && msg.ID != group.UserMessageID {
			continue
		}
		history = append(history, msg)
	}

	ops := make([]fanout.Operation, 0, len(generators))
	for i, g := range generators {
		cand := group.Candidates[i]
		g := g
		ops = append(ops, fanout.Operation{
			Key: cand.MessageID,
			Run: func(opCtx context.Context) error {
				final, genErr := g.Generate(opCtx, history, func(delta string) {
					if appendErr := m.AppendCandidateContent(convID, cand.MessageID, delta); appendErr != nil {
						log.Warn().Err(appendErr).Str("conv_id", convID).Str("message_id", cand.MessageID).
							Msg("dropping stream delta")
					}
				})
				if genErr != nil {
					if failErr := m.FailCandidate(convID, group.ID, cand.MessageID); failErr != nil {
						log.Warn().Err(failErr).Str("message_id", cand.MessageID).Msg("failed to record candidate failure")
					}
					return genErr
				}
				if final != "" {
					if setErr := m.SetCandidateContent(convID, cand.MessageID, final); setErr != nil {
						log.Warn().Err(setErr).Str("message_id", cand.MessageID).Msg("failed to set final content")
					}
				}
				return m.CompleteCandidate(convID, group.ID, cand.MessageID)
			},
		})
	}

	inner := fanout.Launch(ctx, ops, nil)
	done := make(chan fanout.Summary, 1)
	go func() {
		summary := <-inner
		// A panicked operation never reached its own terminal update; close
		// out its candidate here so the group holds no stuck entries.
		for _, res := range summary.Results {
			if res.Err == nil {
				continue
			}
			if conv, ok := m.Get(convID); ok {
				if g, ok := conv.Group(group.ID); ok {
					if cand, ok := g.Candidate(res.Key); ok && cand.Status == chat.CandidateStreaming {
						if failErr := m.FailCandidate(convID, group.ID, res.Key); failErr != nil {
							log.Warn().Err(failErr).Str("message_id", res.Key).Msg("failed to close out candidate")
						}
					}
				}
			}
		}
		if err := eventbus.PublishGroupDone(m.coord.pub, eventbus.GroupDone{
			ConvID:    convID,
			GroupID:   group.ID,
			Completed: summary.Completed,
			Failed:    summary.Failed,
		}); err != nil {
			log.Warn().Err(err).Str("group_id", group.ID).Msg("failed to publish group completion")
		}
		done <- summary
	}()
	return group, done, nil
}
