package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Retries for optimistic-concurrency conflicts on mutating provider calls.
const moveConflictRetries = 2

// ReviewService is the surface the external review UI talks to. It reads and
// resolves individual suggestions concurrently with the triage cycle; the
// store's per-message transactions keep the two from interleaving.
type ReviewService struct {
	store      TriageStore
	provider   MailProvider
	history    *SenderHistory
	gate       CallGate
	logger     *zap.Logger
	applyMoves bool
	now        func() time.Time
}

// NewReviewService creates a review service. When applyMoves is set, an
// approval also moves the message to its effective folder at the provider.
func NewReviewService(
	store TriageStore,
	provider MailProvider,
	history *SenderHistory,
	gate CallGate,
	logger *zap.Logger,
	applyMoves bool,
) *ReviewService {
	return &ReviewService{
		store:      store,
		provider:   provider,
		history:    history,
		gate:       gate,
		logger:     logger,
		applyMoves: applyMoves,
		now:        time.Now,
	}
}

// ListPending pages through pending suggestions, oldest first.
func (r *ReviewService) ListPending(ctx context.Context, limit int, cursor string) ([]*Suggestion, string, error) {
	return r.store.ListPending(ctx, limit, cursor)
}

// Resolve applies a user decision to a pending suggestion. Approved fields
// are settable independently; a correction that only sets the priority
// leaves folder and action type untouched. The transition is one-way: a
// suggestion that already left pending fails with *ConflictError.
func (r *ReviewService) Resolve(ctx context.Context, suggestionID string, res Resolution) (*Suggestion, error) {
	switch res.Status {
	case SuggestionApproved, SuggestionRejected, SuggestionPartial:
	default:
		return nil, fmt.Errorf("invalid resolution status %q", res.Status)
	}
	if res.Priority != nil && !ValidPriority(*res.Priority) {
		return nil, fmt.Errorf("invalid priority %q", *res.Priority)
	}
	if res.ActionType != nil && !ValidActionType(*res.ActionType) {
		return nil, fmt.Errorf("invalid action type %q", *res.ActionType)
	}

	corrected := res.Folder != nil || res.Priority != nil || res.ActionType != nil
	if res.Status == SuggestionApproved && corrected {
		// An approval that changes any field is a partial approval.
		res.Status = SuggestionPartial
	}
	if res.Status == SuggestionPartial && !corrected {
		return nil, fmt.Errorf("partial resolution carries no corrected field")
	}

	sug, err := r.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if sug.Status.IsTerminal() {
		return nil, &ConflictError{Op: "resolve suggestion"}
	}

	sug.Status = res.Status
	sug.ApprovedFolder = res.Folder
	if res.Priority != nil {
		p := *res.Priority
		sug.ApprovedPriority = &p
	}
	if res.ActionType != nil {
		a := *res.ActionType
		sug.ApprovedActionType = &a
	}
	resolvedAt := r.now()
	sug.ResolvedAt = &resolvedAt

	if err := r.store.ResolveSuggestion(ctx, sug); err != nil {
		return nil, err
	}

	msg, err := r.store.GetMessage(ctx, sug.MessageID)
	if err != nil {
		r.logger.Error("Resolved suggestion for unknown message",
			zap.String("suggestion_id", sug.ID),
			zap.String("message_id", sug.MessageID),
			zap.Error(err))
		return sug, nil
	}

	if err := r.history.RecordResolution(ctx, msg.Sender); err != nil {
		r.logger.Error("Failed to update sender profile after resolution",
			zap.String("sender", msg.Sender),
			zap.Error(err))
	}

	if r.applyMoves && (res.Status == SuggestionApproved || res.Status == SuggestionPartial) {
		if err := r.applyMove(ctx, msg, sug.EffectiveFolder()); err != nil {
			return sug, fmt.Errorf("suggestion resolved but move failed: %w", err)
		}
	}

	return sug, nil
}

// applyMove moves the message at the provider, retrying concurrency
// conflicts a small fixed number of times before surfacing them.
func (r *ReviewService) applyMove(ctx context.Context, msg *Message, folder string) error {
	var err error
	for attempt := 0; attempt <= moveConflictRetries; attempt++ {
		if r.gate != nil {
			if gerr := r.gate.Acquire(ctx); gerr != nil {
				return gerr
			}
		}
		err = r.provider.MoveMessage(ctx, msg.ExternalID, folder)
		if err == nil {
			return r.store.UpdateMessageFolder(ctx, msg.ExternalID, folder)
		}
		if !IsConflict(err) {
			return err
		}
		r.logger.Debug("Conflict moving message, retrying",
			zap.String("message_id", msg.ExternalID),
			zap.Int("attempt", attempt+1))
	}
	return err
}
