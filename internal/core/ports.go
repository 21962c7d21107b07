package core

import (
	"context"
	"time"
)

// MailProvider is the contract the pipeline requires from a remote mailbox.
// The paged feed may repeat messages across pages and re-deliver items after
// folder moves; the ingest ledger compensates.
type MailProvider interface {
	// ListNewMessages returns one page of messages received since the cursor.
	ListNewMessages(ctx context.Context, cursor string) (*MessagePage, error)

	// GetThreadMessages returns up to limit messages of one conversation,
	// oldest first.
	GetThreadMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// MoveMessage moves a message to the given folder.
	MoveMessage(ctx context.Context, externalID, folder string) error

	// SetLabels replaces the user-visible labels on a message.
	SetLabels(ctx context.Context, externalID string, labels []string) error
}

// ClassifierBackend is a single structured classification call against an
// external model. A malformed response is a *PermanentError, never a
// *TransientError.
type ClassifierBackend interface {
	Classify(ctx context.Context, pc *PromptContext) (*Classification, error)
}

// TriageStore is the durable home of messages, suggestions, sender profiles
// and pipeline state. Implementations must make CreateSuggestion and
// ResolveSuggestion atomic per message so that no message ever holds two
// pending suggestions.
type TriageStore interface {
	// GetMessage returns the message with the given external ID or ErrNotFound.
	GetMessage(ctx context.Context, externalID string) (*Message, error)

	// CreateMessage inserts a newly ingested message.
	CreateMessage(ctx context.Context, msg *Message) error

	// UpdateMessageFolder records a detected folder move without touching
	// classification state.
	UpdateMessageFolder(ctx context.Context, externalID, folder string) error

	// SetMessageStatus sets the classification status and attempt counter.
	SetMessageStatus(ctx context.Context, externalID string, status ClassificationStatus, attempts int) error

	// UnclassifiedBacklog returns unclassified messages oldest first, used to
	// drain the queue after degraded mode ends.
	UnclassifiedBacklog(ctx context.Context, limit int) ([]*Message, error)

	// ThreadDomains returns the distinct sender domains seen so far in a
	// conversation.
	ThreadDomains(ctx context.Context, conversationID string) ([]string, error)

	// CreateSuggestion persists a new pending suggestion. Any outstanding
	// pending suggestion for the same message is expired in the same
	// transaction.
	CreateSuggestion(ctx context.Context, sug *Suggestion) error

	// GetSuggestion returns a suggestion by ID or ErrNotFound.
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)

	// PendingForMessage returns the message's pending suggestion or ErrNotFound.
	PendingForMessage(ctx context.Context, messageID string) (*Suggestion, error)

	// ListPending pages through pending suggestions, oldest first. The
	// returned cursor is empty when no more pages remain.
	ListPending(ctx context.Context, limit int, cursor string) ([]*Suggestion, string, error)

	// ResolveSuggestion applies a terminal status and the approved fields.
	// It fails with *ConflictError if the suggestion is no longer pending.
	ResolveSuggestion(ctx context.Context, sug *Suggestion) error

	// ExpirePending transitions pending suggestions created before the cutoff
	// to expired and returns how many were affected.
	ExpirePending(ctx context.Context, olderThan time.Time) (int, error)

	// LatestResolvedInThread returns the most recently resolved suggestion in
	// a conversation along with its message, or ErrNotFound.
	LatestResolvedInThread(ctx context.Context, conversationID string) (*Suggestion, *Message, error)

	// SenderFolderDistribution returns counts of confirmed folders per sender.
	SenderFolderDistribution(ctx context.Context, sender string) (map[string]int, error)

	// GetSenderProfile returns the profile for a sender or ErrNotFound.
	GetSenderProfile(ctx context.Context, sender string) (*SenderProfile, error)

	// UpsertSenderProfile inserts or replaces a sender profile.
	UpsertSenderProfile(ctx context.Context, profile *SenderProfile) error

	// GetPipelineState loads the persisted pipeline state, or a zero-value
	// state on first start.
	GetPipelineState(ctx context.Context) (*PipelineState, error)

	// SavePipelineState persists the pipeline state.
	SavePipelineState(ctx context.Context, state *PipelineState) error

	// RecordAttempt appends one classification attempt to the audit trail.
	RecordAttempt(ctx context.Context, attempt *ClassificationAttempt) error
}
