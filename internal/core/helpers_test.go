package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/utils"
)

// openGate is a CallGate that never blocks.
type openGate struct{}

func (openGate) Acquire(context.Context) error { return nil }

// fakeProvider is a scripted MailProvider.
type fakeProvider struct {
	mu      sync.Mutex
	pages   map[string]*MessagePage
	threads map[string][]*Message
	moves   []string
	moveErr []error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pages:   make(map[string]*MessagePage),
		threads: make(map[string][]*Message),
	}
}

func (p *fakeProvider) ListNewMessages(_ context.Context, cursor string) (*MessagePage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.pages[cursor]
	if !ok {
		return &MessagePage{}, nil
	}
	return page, nil
}

func (p *fakeProvider) GetThreadMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.threads[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (p *fakeProvider) MoveMessage(_ context.Context, externalID, folder string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.moveErr) > 0 {
		err := p.moveErr[0]
		p.moveErr = p.moveErr[1:]
		if err != nil {
			return err
		}
	}
	p.moves = append(p.moves, externalID+":"+folder)
	return nil
}

func (p *fakeProvider) SetLabels(context.Context, string, []string) error { return nil }

// backendReply scripts one ClassifierBackend response.
type backendReply struct {
	result *Classification
	err    error
}

// fakeBackend replays scripted replies in order and repeats the final one.
type fakeBackend struct {
	mu      sync.Mutex
	replies []backendReply
	calls   int
	// lastContext captures what the pipeline handed over.
	lastContext *PromptContext
}

func (b *fakeBackend) Classify(_ context.Context, pc *PromptContext) (*Classification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastContext = pc
	idx := b.calls
	b.calls++
	if idx >= len(b.replies) {
		idx = len(b.replies) - 1
	}
	if idx < 0 {
		return nil, &TransientError{Op: "classify", Err: context.DeadlineExceeded}
	}
	r := b.replies[idx]
	return r.result, r.err
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func validResult(folder string) *Classification {
	return &Classification{
		Folder:     folder,
		Priority:   PriorityP2,
		ActionType: ActionRespond,
		Confidence: 0.9,
		Rationale:  "looks actionable",
		Model:      "test-model",
	}
}

// pipeline bundles a fully wired TriageService with its collaborators so
// tests can reach into any layer.
type pipeline struct {
	service    *TriageService
	store      *memStore
	provider   *fakeProvider
	backend    *fakeBackend
	controller *DegradationController
	classifier *ClassifierClient
	review     *ReviewService
	history    *SenderHistory
}

func newPipeline(rules []AutoRule) *pipeline {
	logger := zap.NewNop()
	store := newMemStore()
	provider := newFakeProvider()
	backend := &fakeBackend{}

	ruleSet, err := NewRuleSet(rules, logger)
	if err != nil {
		panic(err)
	}

	history := NewSenderHistory(store, logger)
	classifier := NewClassifierClient(backend, nil, store, logger)
	classifier.sleep = func(context.Context, time.Duration) error { return nil }

	text := utils.NewTextProcessor(logger)
	contexts := NewContextBuilder(history, provider, text, logger, 3, 200, "")
	controller := NewDegradationController(logger)
	resolver := NewThreadResolver(store, []string{"mycorp.com"}, logger)
	ledger := NewLedger(store, logger)

	service := NewTriageService(
		provider, store, ledger, ruleSet, resolver, classifier, contexts,
		controller, history, nil, openGate{}, logger,
		TriageOptions{ClassifyConcurrency: 1},
	)

	review := NewReviewService(store, provider, history, openGate{}, logger, false)

	return &pipeline{
		service:    service,
		store:      store,
		provider:   provider,
		backend:    backend,
		controller: controller,
		classifier: classifier,
		review:     review,
		history:    history,
	}
}

func feedMessage(id, conversation, sender, subject string) *Message {
	return &Message{
		ExternalID:     id,
		ConversationID: conversation,
		Sender:         sender,
		Subject:        subject,
		Snippet:        "body of " + id,
		Folder:         "INBOX",
		ReceivedAt:     time.Now(),
	}
}

func strPtr(s string) *string { return &s }
