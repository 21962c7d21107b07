package core

import (
	"strings"
	"time"
)

// ClassificationStatus tracks how far a message has made it through the pipeline
type ClassificationStatus string

const (
	StatusUnclassified ClassificationStatus = "unclassified"
	StatusClassified   ClassificationStatus = "classified"
	StatusFailed       ClassificationStatus = "failed"
)

// ApprovalStatus is the lifecycle state of a suggestion. Only "pending" is
// non-terminal; every other status is one-way.
type ApprovalStatus string

const (
	SuggestionPending      ApprovalStatus = "pending"
	SuggestionApproved     ApprovalStatus = "approved"
	SuggestionRejected     ApprovalStatus = "rejected"
	SuggestionPartial      ApprovalStatus = "partial"
	SuggestionAutoApproved ApprovalStatus = "auto_approved"
	SuggestionExpired      ApprovalStatus = "expired"
)

// IsTerminal reports whether the status can never change again.
func (s ApprovalStatus) IsTerminal() bool {
	return s != SuggestionPending
}

// Priority is the urgency tier assigned to a message. P1 is the highest
// severity and is excluded from auto-approval.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// ValidPriority reports whether p is one of the known tiers.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

// ActionType describes what the user is expected to do with a message.
type ActionType string

const (
	ActionRespond  ActionType = "respond"
	ActionReview   ActionType = "review"
	ActionFile     ActionType = "file"
	ActionDelegate ActionType = "delegate"
	ActionNone     ActionType = "none"
)

// ValidActionType reports whether a is one of the known action types.
func ValidActionType(a ActionType) bool {
	switch a {
	case ActionRespond, ActionReview, ActionFile, ActionDelegate, ActionNone:
		return true
	}
	return false
}

// Strategy identifies which tier of the decision pipeline produced a suggestion.
type Strategy string

const (
	StrategyAutoRule      Strategy = "auto_rule"
	StrategyThreadInherit Strategy = "thread_inherit"
	StrategyFullClassify  Strategy = "full_classify"
)

// Confidence bands governing review routing.
const (
	FastTrackConfidence    = 0.85
	LowConfidenceThreshold = 0.5
	InheritedConfidence    = 0.95
)

// Message is one ingested mail item. The external ID is stable across folder
// moves. A message is created on first sight and mutated in place afterwards;
// it is never deleted.
type Message struct {
	ExternalID     string
	ConversationID string
	ThreadDepth    int
	Subject        string
	Sender         string
	ReceivedAt     time.Time
	Snippet        string
	Folder         string
	Important      bool
	Read           bool
	Flagged        bool
	Replied        bool
	Status         ClassificationStatus
	Attempts       int
	CreatedAt      time.Time
}

// SenderDomain returns the lowercased domain part of the sender address, or
// an empty string if the address is malformed.
func (m *Message) SenderDomain() string {
	return DomainOf(m.Sender)
}

// DomainOf extracts the lowercased domain from an email address.
func DomainOf(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// Suggestion is one classification proposal for a message together with its
// approval lifecycle. A message may accumulate several suggestions over time
// but holds at most one pending suggestion.
type Suggestion struct {
	ID         string
	MessageID  string
	Folder     string
	Priority   Priority
	ActionType ActionType
	Confidence float64
	Rationale  string
	Strategy   Strategy
	Status     ApprovalStatus

	// User corrections, settable independently per field.
	ApprovedFolder     *string
	ApprovedPriority   *Priority
	ApprovedActionType *ActionType

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// EffectiveFolder is the folder a resolved suggestion stands for: the user
// correction when present, otherwise the proposed folder.
func (s *Suggestion) EffectiveFolder() string {
	if s.ApprovedFolder != nil {
		return *s.ApprovedFolder
	}
	return s.Folder
}

// ReviewTier buckets a suggestion by confidence for the review surface.
func (s *Suggestion) ReviewTier() string {
	switch {
	case s.Confidence >= FastTrackConfidence:
		return "fast_track"
	case s.Confidence < LowConfidenceThreshold:
		return "low_confidence"
	default:
		return "standard"
	}
}

// SenderProfile aggregates confirmed classifications per sender address.
type SenderProfile struct {
	Sender        string
	DisplayName   string
	Domain        string
	Category      string
	TopFolder     string
	EmailCount    int
	LastSeen      time.Time
	RuleCandidate bool
}

// Rule-candidate thresholds: a sender with at least this many emails and this
// share going to a single folder is a strong candidate for a static rule.
const (
	RuleCandidateMinEmails = 10
	RuleCandidateMinShare  = 0.9
)

// PipelineMode is the operating mode of the triage pipeline.
type PipelineMode string

const (
	ModeNormal    PipelineMode = "normal"
	ModeRulesOnly PipelineMode = "rules_only"
)

// PipelineState holds the process-wide counters persisted across cycles.
type PipelineState struct {
	ConsecutiveFailures int
	Mode                PipelineMode
	LastSuccess         time.Time
	Cursor              string
	UpdatedAt           time.Time
}

// Classification is the structured result returned by a classifier backend.
type Classification struct {
	Folder     string
	Priority   Priority
	ActionType ActionType
	Confidence float64
	Rationale  string
	Model      string
}

// ThreadMessage is a truncated prior message supplied as classifier context.
type ThreadMessage struct {
	Sender  string
	Snippet string
}

// PromptContext bundles everything the classifier backend is given for one
// message. SenderDistribution is only populated when the history gates pass,
// and InheritedFolder is set when thread inheritance already fixed the folder
// so only priority and action type are requested.
type PromptContext struct {
	Message            *Message
	SenderDistribution map[string]int
	ThreadMessages     []ThreadMessage
	InheritedFolder    string
	Preferences        string
}

// ClassificationAttempt is one audit record per classify call, success or not.
type ClassificationAttempt struct {
	MessageID string
	Strategy  Strategy
	Outcome   string
	ErrorKind string
	Model     string
	Duration  time.Duration
	At        time.Time
}

// Attempt outcomes recorded for audit.
const (
	AttemptSucceeded = "succeeded"
	AttemptTransient = "transient_error"
	AttemptParse     = "parse_error"
	AttemptRateLimit = "rate_limited"
)

// MessagePage is one page of the remote feed. Pages may repeat messages.
type MessagePage struct {
	Messages   []*Message
	NextCursor string
}

// Resolution is a user (or policy) decision applied to a pending suggestion.
type Resolution struct {
	Status     ApprovalStatus
	Folder     *string
	Priority   *Priority
	ActionType *ActionType
}

// CycleStats summarizes one triage cycle.
type CycleStats struct {
	Fetched      int
	New          int
	Moved        int
	Unchanged    int
	Retried      int
	AutoRuled    int
	Inherited    int
	Classified   int
	Failed       int
	Queued       int
	Expired      int
	AutoApproved int
	Drained      int
}
