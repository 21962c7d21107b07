package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

// seedResolved records one approved suggestion for sender into folder.
func seedResolved(store *memStore, n int, sender, folder string) {
	resolved := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("hist-%s-%s-%d", sender, folder, i)
		store.messages[id] = &Message{ExternalID: id, Sender: sender, Status: StatusClassified}
		store.suggestions = append(store.suggestions, &Suggestion{
			ID: "sug-" + id, MessageID: id, Folder: folder,
			Status: SuggestionApproved, ResolvedAt: &resolved,
		})
	}
}

func TestPriorRequiresEnoughSamples(t *testing.T) {
	store := newMemStore()
	h := NewSenderHistory(store, zap.NewNop())
	seedResolved(store, 4, "a@b.com", "Work")

	prior, err := h.Prior(context.Background(), "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if prior != nil {
		t.Fatalf("prior = %v, want nil below %d samples", prior, senderPriorMinSamples)
	}

	seedResolved(store, 1, "a@b.com", "Work")
	prior, err = h.Prior(context.Background(), "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if prior == nil || prior["Work"] != 5 {
		t.Fatalf("prior = %v, want 5x Work", prior)
	}
}

func TestPriorRequiresDominantFolder(t *testing.T) {
	store := newMemStore()
	h := NewSenderHistory(store, zap.NewNop())
	seedResolved(store, 4, "a@b.com", "Work")
	seedResolved(store, 4, "a@b.com", "Personal")

	prior, err := h.Prior(context.Background(), "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if prior != nil {
		t.Fatalf("prior = %v, want nil for a split distribution", prior)
	}
}

func TestRecordSightingCreatesAndBumps(t *testing.T) {
	store := newMemStore()
	h := NewSenderHistory(store, zap.NewNop())
	msg := feedMessage("m1", "", "noreply@shop.example.com", "receipt")

	if err := h.RecordSighting(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if err := h.RecordSighting(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	p, err := store.GetSenderProfile(context.Background(), "noreply@shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if p.EmailCount != 2 {
		t.Fatalf("email count = %d, want 2", p.EmailCount)
	}
	if p.Category != "automated" {
		t.Fatalf("category = %q, want automated", p.Category)
	}
	if p.Domain != "shop.example.com" {
		t.Fatalf("domain = %q", p.Domain)
	}
}

func TestRecordResolutionFlagsRuleCandidate(t *testing.T) {
	store := newMemStore()
	h := NewSenderHistory(store, zap.NewNop())
	sender := "news@weekly.example.com"

	msg := feedMessage("m0", "", sender, "issue 1")
	for i := 0; i < RuleCandidateMinEmails; i++ {
		if err := h.RecordSighting(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	seedResolved(store, 10, sender, "Newsletters")

	if err := h.RecordResolution(context.Background(), sender); err != nil {
		t.Fatal(err)
	}
	p, err := store.GetSenderProfile(context.Background(), sender)
	if err != nil {
		t.Fatal(err)
	}
	if !p.RuleCandidate {
		t.Fatal("expected a rule candidate after 10 consistent resolutions")
	}
	if p.TopFolder != "Newsletters" {
		t.Fatalf("top folder = %q", p.TopFolder)
	}
}

func TestRecordResolutionMixedFoldersNotCandidate(t *testing.T) {
	store := newMemStore()
	h := NewSenderHistory(store, zap.NewNop())
	sender := "pat@client.com"

	msg := feedMessage("m0", "", sender, "misc")
	for i := 0; i < 12; i++ {
		if err := h.RecordSighting(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	seedResolved(store, 6, sender, "Work")
	seedResolved(store, 6, sender, "Projects/X")

	if err := h.RecordResolution(context.Background(), sender); err != nil {
		t.Fatal(err)
	}
	p, _ := store.GetSenderProfile(context.Background(), sender)
	if p.RuleCandidate {
		t.Fatal("a split distribution must not produce a rule candidate")
	}
}

func TestCategorizeSender(t *testing.T) {
	cases := []struct {
		address, want string
	}{
		{"noreply@github.com", "automated"},
		{"donotreply@bank.com", "automated"},
		{"no-reply@bank.com", "automated"},
		{"newsletter@stratechery.com", "newsletter"},
		{"support@vendor.io", "support"},
		{"billing@saas.app", "billing"},
		{"jane.doe@client.com", "person"},
	}
	for _, tc := range cases {
		if got := categorizeSender(tc.address); got != tc.want {
			t.Errorf("categorizeSender(%q) = %q, want %q", tc.address, got, tc.want)
		}
	}
}
