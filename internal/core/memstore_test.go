package core

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// memStore is an in-memory TriageStore used by the tests in this package.
// Its semantics mirror the SQL store: CreateSuggestion expires any pending
// suggestion for the message, ResolveSuggestion is optimistic on pending.
type memStore struct {
	mu          sync.Mutex
	messages    map[string]*Message
	suggestions []*Suggestion
	profiles    map[string]*SenderProfile
	state       PipelineState
	attempts    []*ClassificationAttempt

	failSaveState bool
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]*Message),
		profiles: make(map[string]*SenderProfile),
		state:    PipelineState{Mode: ModeNormal},
	}
}

func copyMessage(m *Message) *Message {
	c := *m
	return &c
}

func copySuggestion(s *Suggestion) *Suggestion {
	c := *s
	if s.ApprovedFolder != nil {
		v := *s.ApprovedFolder
		c.ApprovedFolder = &v
	}
	if s.ApprovedPriority != nil {
		v := *s.ApprovedPriority
		c.ApprovedPriority = &v
	}
	if s.ApprovedActionType != nil {
		v := *s.ApprovedActionType
		c.ApprovedActionType = &v
	}
	if s.ResolvedAt != nil {
		v := *s.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}

func (s *memStore) GetMessage(_ context.Context, externalID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *memStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ExternalID] = copyMessage(msg)
	return nil
}

func (s *memStore) UpdateMessageFolder(_ context.Context, externalID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[externalID]
	if !ok {
		return ErrNotFound
	}
	m.Folder = folder
	return nil
}

func (s *memStore) SetMessageStatus(_ context.Context, externalID string, status ClassificationStatus, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[externalID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.Attempts = attempts
	return nil
}

func (s *memStore) UnclassifiedBacklog(_ context.Context, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.Status == StatusUnclassified {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ThreadDomains(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		d := m.SenderDomain()
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) CreateSuggestion(_ context.Context, sug *Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, existing := range s.suggestions {
		if existing.MessageID == sug.MessageID && existing.Status == SuggestionPending {
			existing.Status = SuggestionExpired
			existing.ResolvedAt = &now
		}
	}
	s.suggestions = append(s.suggestions, copySuggestion(sug))
	return nil
}

func (s *memStore) GetSuggestion(_ context.Context, id string) (*Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sug := range s.suggestions {
		if sug.ID == id {
			return copySuggestion(sug), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) PendingForMessage(_ context.Context, messageID string) (*Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sug := range s.suggestions {
		if sug.MessageID == messageID && sug.Status == SuggestionPending {
			return copySuggestion(sug), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListPending(_ context.Context, limit int, cursor string) ([]*Suggestion, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*Suggestion
	for _, sug := range s.suggestions {
		if sug.Status == SuggestionPending {
			pending = append(pending, copySuggestion(sug))
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	if start >= len(pending) {
		return nil, "", nil
	}
	end := len(pending)
	next := ""
	if limit > 0 && start+limit < end {
		end = start + limit
		next = strconv.Itoa(end)
	}
	return pending[start:end], next, nil
}

func (s *memStore) ResolveSuggestion(_ context.Context, sug *Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.suggestions {
		if existing.ID == sug.ID {
			if existing.Status != SuggestionPending {
				return &ConflictError{Op: "resolve suggestion"}
			}
			s.suggestions[i] = copySuggestion(sug)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) ExpirePending(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for _, sug := range s.suggestions {
		if sug.Status == SuggestionPending && sug.CreatedAt.Before(olderThan) {
			sug.Status = SuggestionExpired
			sug.ResolvedAt = &now
			n++
		}
	}
	return n, nil
}

// inheritable mirrors the SQL store's definition of a prior classification
// worth inheriting: a human or policy confirmed it, or a rejection came with
// a corrected folder.
func inheritable(sug *Suggestion) bool {
	switch sug.Status {
	case SuggestionApproved, SuggestionPartial, SuggestionAutoApproved:
		return true
	case SuggestionRejected:
		return sug.ApprovedFolder != nil
	}
	return false
}

func (s *memStore) LatestResolvedInThread(_ context.Context, conversationID string) (*Suggestion, *Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Suggestion
	var bestMsg *Message
	for _, sug := range s.suggestions {
		if !inheritable(sug) || sug.ResolvedAt == nil {
			continue
		}
		msg, ok := s.messages[sug.MessageID]
		if !ok || msg.ConversationID != conversationID {
			continue
		}
		if best == nil || sug.ResolvedAt.After(*best.ResolvedAt) {
			best = sug
			bestMsg = msg
		}
	}
	if best == nil {
		return nil, nil, ErrNotFound
	}
	return copySuggestion(best), copyMessage(bestMsg), nil
}

func (s *memStore) SenderFolderDistribution(_ context.Context, sender string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dist := make(map[string]int)
	for _, sug := range s.suggestions {
		if !inheritable(sug) {
			continue
		}
		msg, ok := s.messages[sug.MessageID]
		if !ok || msg.Sender != sender {
			continue
		}
		dist[sug.EffectiveFolder()]++
	}
	return dist, nil
}

func (s *memStore) GetSenderProfile(_ context.Context, sender string) (*SenderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[sender]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *memStore) UpsertSenderProfile(_ context.Context, profile *SenderProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *profile
	s.profiles[profile.Sender] = &c
	return nil
}

func (s *memStore) GetPipelineState(_ context.Context) (*PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state
	return &c, nil
}

func (s *memStore) SavePipelineState(_ context.Context, state *PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveState {
		return &TransientError{Op: "save state", Err: context.DeadlineExceeded}
	}
	s.state = *state
	return nil
}

func (s *memStore) RecordAttempt(_ context.Context, attempt *ClassificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *attempt
	s.attempts = append(s.attempts, &c)
	return nil
}

// suggestionsForMessage returns every suggestion for a message, oldest first.
func (s *memStore) suggestionsForMessage(messageID string) []*Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Suggestion
	for _, sug := range s.suggestions {
		if sug.MessageID == messageID {
			out = append(out, copySuggestion(sug))
		}
	}
	return out
}
