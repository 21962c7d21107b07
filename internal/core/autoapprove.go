package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AutoApprovePolicy gates unattended approval of high-confidence suggestions.
// A suggestion qualifies when it has sat pending for at least MinAge with
// confidence at or above MinConfidence. The highest severity tier (P1) is
// never auto-approved regardless of confidence.
type AutoApprovePolicy struct {
	Enabled       bool
	MinConfidence float64
	MinAge        time.Duration
}

// AutoApprover sweeps pending suggestions and applies the policy.
type AutoApprover struct {
	store   TriageStore
	history *SenderHistory
	policy  AutoApprovePolicy
	logger  *zap.Logger
	now     func() time.Time
}

// NewAutoApprover creates an auto-approver.
func NewAutoApprover(store TriageStore, history *SenderHistory, policy AutoApprovePolicy, logger *zap.Logger) *AutoApprover {
	return &AutoApprover{
		store:   store,
		history: history,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep auto-approves every qualifying pending suggestion and returns how
// many were approved. A concurrent user resolution wins: conflicts are
// skipped silently.
func (a *AutoApprover) Sweep(ctx context.Context) (int, error) {
	if !a.policy.Enabled {
		return 0, nil
	}

	approved := 0
	cursor := ""
	cutoff := a.now().Add(-a.policy.MinAge)
	for {
		batch, next, err := a.store.ListPending(ctx, 100, cursor)
		if err != nil {
			return approved, err
		}
		for _, sug := range batch {
			if err := ctx.Err(); err != nil {
				return approved, err
			}
			if sug.Priority == PriorityP1 {
				continue
			}
			if sug.Confidence < a.policy.MinConfidence || sug.CreatedAt.After(cutoff) {
				continue
			}

			resolvedAt := a.now()
			sug.Status = SuggestionAutoApproved
			sug.ResolvedAt = &resolvedAt
			if err := a.store.ResolveSuggestion(ctx, sug); err != nil {
				if IsConflict(err) {
					continue
				}
				return approved, err
			}
			approved++

			if msg, err := a.store.GetMessage(ctx, sug.MessageID); err == nil {
				if herr := a.history.RecordResolution(ctx, msg.Sender); herr != nil {
					a.logger.Error("Failed to update sender profile after auto-approval",
						zap.String("sender", msg.Sender),
						zap.Error(herr))
				}
			}

			a.logger.Info("Auto-approved suggestion",
				zap.String("suggestion_id", sug.ID),
				zap.String("message_id", sug.MessageID),
				zap.Float64("confidence", sug.Confidence))
		}
		if next == "" {
			return approved, nil
		}
		cursor = next
	}
}
