package core

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// seedPending stores an unresolved suggestion plus its message and returns
// the suggestion ID.
func seedPending(store *memStore, msgID, sender, folder string) string {
	store.messages[msgID] = &Message{
		ExternalID: msgID,
		Sender:     sender,
		Status:     StatusClassified,
		Folder:     "INBOX",
	}
	sug := &Suggestion{
		ID:         "sug-" + msgID,
		MessageID:  msgID,
		Folder:     folder,
		Priority:   PriorityP2,
		ActionType: ActionRespond,
		Confidence: 0.9,
		Strategy:   StrategyFullClassify,
		Status:     SuggestionPending,
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	store.suggestions = append(store.suggestions, sug)
	return sug.ID
}

func newReview(store *memStore, provider *fakeProvider, applyMoves bool) *ReviewService {
	logger := zap.NewNop()
	return NewReviewService(store, provider, NewSenderHistory(store, logger), openGate{}, logger, applyMoves)
}

func TestResolveApprove(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	sug, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sug.Status != SuggestionApproved {
		t.Fatalf("status = %v", sug.Status)
	}
	if sug.ApprovedFolder != nil || sug.ApprovedPriority != nil || sug.ApprovedActionType != nil {
		t.Fatal("plain approval must not record corrections")
	}
	if sug.ResolvedAt == nil {
		t.Fatal("resolved_at not set")
	}
	if sug.EffectiveFolder() != "Work" {
		t.Fatalf("effective folder = %q", sug.EffectiveFolder())
	}
}

func TestResolvePriorityOnlyCorrectionIsPartial(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	p := PriorityP1
	sug, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved, Priority: &p})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sug.Status != SuggestionPartial {
		t.Fatalf("status = %v, want partial when a field is corrected", sug.Status)
	}
	if sug.ApprovedPriority == nil || *sug.ApprovedPriority != PriorityP1 {
		t.Fatalf("approved priority = %v", sug.ApprovedPriority)
	}
	if sug.ApprovedFolder != nil || sug.ApprovedActionType != nil {
		t.Fatal("untouched fields must stay null")
	}
	// The uncorrected folder still governs placement.
	if sug.EffectiveFolder() != "Work" {
		t.Fatalf("effective folder = %q", sug.EffectiveFolder())
	}
}

func TestResolveRejectWithCorrectedFolder(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	sug, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionRejected, Folder: strPtr("Personal")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sug.Status != SuggestionRejected {
		t.Fatalf("status = %v", sug.Status)
	}
	if sug.EffectiveFolder() != "Personal" {
		t.Fatalf("effective folder = %q, want the corrected one", sug.EffectiveFolder())
	}
}

func TestResolveTerminalIsConflict(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	if _, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved}); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	_, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionRejected})
	if !IsConflict(err) {
		t.Fatalf("err = %v, want conflict on a second resolution", err)
	}
}

func TestResolveValidatesInput(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	badPriority := Priority("P9")
	badAction := ActionType("escalate")
	cases := []struct {
		name string
		res  Resolution
	}{
		{"pending not a decision", Resolution{Status: SuggestionPending}},
		{"expired not a decision", Resolution{Status: SuggestionExpired}},
		{"auto-approved is machine only", Resolution{Status: SuggestionAutoApproved}},
		{"unknown priority", Resolution{Status: SuggestionApproved, Priority: &badPriority}},
		{"unknown action", Resolution{Status: SuggestionApproved, ActionType: &badAction}},
		{"partial without corrections", Resolution{Status: SuggestionPartial}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), id, tc.res); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestResolveApprovalMovesMessage(t *testing.T) {
	store := newMemStore()
	provider := newFakeProvider()
	r := newReview(store, provider, true)
	id := seedPending(store, "m1", "a@b.com", "Work")

	if _, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(provider.moves) != 1 || provider.moves[0] != "m1:Work" {
		t.Fatalf("moves = %v", provider.moves)
	}
	msg, _ := store.GetMessage(context.Background(), "m1")
	if msg.Folder != "Work" {
		t.Fatalf("stored folder = %q", msg.Folder)
	}
}

func TestResolveMoveRetriesConflicts(t *testing.T) {
	store := newMemStore()
	provider := newFakeProvider()
	provider.moveErr = []error{&ConflictError{Op: "move"}, &ConflictError{Op: "move"}, nil}
	r := newReview(store, provider, true)
	id := seedPending(store, "m1", "a@b.com", "Work")

	if _, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(provider.moves) != 1 {
		t.Fatalf("moves = %v, want success on the third attempt", provider.moves)
	}
}

func TestResolveRejectionDoesNotMove(t *testing.T) {
	store := newMemStore()
	provider := newFakeProvider()
	r := newReview(store, provider, true)
	id := seedPending(store, "m1", "a@b.com", "Work")

	if _, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionRejected}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(provider.moves) != 0 {
		t.Fatalf("moves = %v, rejection must not touch the mailbox", provider.moves)
	}
}

func TestConcurrentResolutionsOneWins(t *testing.T) {
	store := newMemStore()
	r := newReview(store, newFakeProvider(), false)
	id := seedPending(store, "m1", "a@b.com", "Work")

	results := make(chan error, 2)
	go func() {
		_, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionApproved})
		results <- err
	}()
	go func() {
		_, err := r.Resolve(context.Background(), id, Resolution{Status: SuggestionRejected})
		results <- err
	}()

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			if !IsConflict(err) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("conflicts = %d, exactly one resolution must lose", failures)
	}
}
