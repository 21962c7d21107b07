package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/utils"
)

// CallGate bounds outbound call rate. Acquire blocks up to the gate's
// configured maximum wait and then fails with a *RateLimitError.
type CallGate interface {
	Acquire(ctx context.Context) error
}

// Retry ladder for transient classifier failures.
var defaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const maxClassifyAttempts = 3

// defaultRateLimitPause is used when the remote rate-limit signal carries no
// retry-after hint.
const defaultRateLimitPause = 30 * time.Second

// ClassifierClient wraps a ClassifierBackend with the pipeline's retry
// policy, rate limiting, cycle-wide rate-limit pause and audit recording.
type ClassifierClient struct {
	backend ClassifierBackend
	gate    CallGate
	store   TriageStore
	logger  *zap.Logger
	backoff []time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewClassifierClient creates a classifier client. gate may be nil when no
// rate limiting is wanted (tests).
func NewClassifierClient(backend ClassifierBackend, gate CallGate, store TriageStore, logger *zap.Logger) *ClassifierClient {
	return &ClassifierClient{
		backend: backend,
		gate:    gate,
		store:   store,
		logger:  logger,
		backoff: defaultBackoff,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Classify runs up to three attempts against the backend and returns the
// result plus the number of attempts actually made. Transient failures back
// off 1s/2s/4s; a remote rate-limit signal pauses every classification call
// sharing this client until the hint elapses without consuming an attempt;
// parse failures are terminal after a single attempt.
func (c *ClassifierClient) Classify(ctx context.Context, pc *PromptContext, strategy Strategy) (*Classification, int, error) {
	attempts := 0
	for attempts < maxClassifyAttempts {
		if err := c.waitForPause(ctx); err != nil {
			return nil, attempts, err
		}
		if c.gate != nil {
			if err := c.gate.Acquire(ctx); err != nil {
				return nil, attempts, fmt.Errorf("classifier call gate: %w", err)
			}
		}

		start := c.now()
		result, err := c.backend.Classify(ctx, pc)
		elapsed := c.now().Sub(start)
		attempts++

		if err == nil {
			if verr := validateClassification(result); verr != nil {
				err = verr
			}
		}

		c.recordAttempt(ctx, pc.Message.ExternalID, strategy, elapsed, result, err)

		switch {
		case err == nil:
			return result, attempts, nil

		case IsPermanent(err):
			c.logger.Warn("Classifier returned unparseable result, not retrying",
				zap.String("message_id", pc.Message.ExternalID),
				zap.Error(err))
			return nil, attempts, err

		default:
			if re, ok := AsRateLimit(err); ok {
				// The pause protects the whole cycle, and a rate-limited
				// call does not count against the message's attempts.
				attempts--
				c.pause(re.RetryAfter)
				continue
			}
			if !IsTransient(err) {
				// Unclassified failure kinds ride the transient path; the
				// attempt ceiling still bounds them.
				c.logger.Debug("Treating unclassified classifier error as transient",
					zap.Error(err))
			}
			if attempts < maxClassifyAttempts {
				if serr := c.sleep(ctx, c.backoff[attempts-1]); serr != nil {
					return nil, attempts, serr
				}
				continue
			}
			return nil, attempts, err
		}
	}
	return nil, attempts, fmt.Errorf("classification attempts exhausted")
}

// pause blocks subsequent classification calls until the retry-after hint
// elapses. A zero hint falls back to a fixed pause.
func (c *ClassifierClient) pause(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = defaultRateLimitPause
	}
	until := c.now().Add(retryAfter)

	c.mu.Lock()
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
	c.mu.Unlock()

	c.logger.Warn("Remote classifier rate limited, pausing all classification calls",
		zap.Duration("retry_after", retryAfter))
}

func (c *ClassifierClient) waitForPause(ctx context.Context) error {
	c.mu.Lock()
	wait := c.pausedUntil.Sub(c.now())
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return c.sleep(ctx, wait)
}

func (c *ClassifierClient) recordAttempt(ctx context.Context, messageID string, strategy Strategy, elapsed time.Duration, result *Classification, err error) {
	attempt := &ClassificationAttempt{
		MessageID: messageID,
		Strategy:  strategy,
		Duration:  elapsed,
		At:        c.now(),
	}
	switch {
	case err == nil:
		attempt.Outcome = AttemptSucceeded
		attempt.Model = result.Model
	case IsPermanent(err):
		attempt.Outcome = AttemptParse
		attempt.ErrorKind = "permanent"
	default:
		if _, ok := AsRateLimit(err); ok {
			attempt.Outcome = AttemptRateLimit
			attempt.ErrorKind = "rate_limit"
		} else {
			attempt.Outcome = AttemptTransient
			attempt.ErrorKind = "transient"
		}
	}

	if rerr := c.store.RecordAttempt(ctx, attempt); rerr != nil {
		c.logger.Error("Failed to record classification attempt", zap.Error(rerr))
	}
}

// validateClassification is the exhaustive check at the result boundary. Any
// value outside the known enums is a permanent error, never silently kept.
func validateClassification(cl *Classification) error {
	if cl == nil {
		return &PermanentError{Reason: "nil classification"}
	}
	if cl.Folder == "" {
		return &PermanentError{Reason: "missing folder"}
	}
	if !ValidPriority(cl.Priority) {
		return &PermanentError{Reason: fmt.Sprintf("unknown priority %q", cl.Priority)}
	}
	if !ValidActionType(cl.ActionType) {
		return &PermanentError{Reason: fmt.Sprintf("unknown action type %q", cl.ActionType)}
	}
	if cl.Confidence < 0 || cl.Confidence > 1 {
		return &PermanentError{Reason: fmt.Sprintf("confidence %v outside [0,1]", cl.Confidence)}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ContextBuilder assembles the enriched PromptContext handed to the backend.
type ContextBuilder struct {
	history       *SenderHistory
	provider      MailProvider
	text          *utils.TextProcessor
	logger        *zap.Logger
	threadLimit   int
	threadSnippet int
	preferences   string
}

// NewContextBuilder creates a context builder. threadSnippet bounds each
// prior in-thread message and should be shorter than the primary snippet.
func NewContextBuilder(
	history *SenderHistory,
	provider MailProvider,
	text *utils.TextProcessor,
	logger *zap.Logger,
	threadLimit int,
	threadSnippet int,
	preferences string,
) *ContextBuilder {
	if threadLimit <= 0 || threadLimit > 3 {
		threadLimit = 3
	}
	return &ContextBuilder{
		history:       history,
		provider:      provider,
		text:          text,
		logger:        logger,
		threadLimit:   threadLimit,
		threadSnippet: threadSnippet,
		preferences:   preferences,
	}
}

// Build enriches msg with the sender prior, up to three prior in-thread
// messages and the inherited-folder hint. Thread-context failures are logged
// and skipped, never fatal to the classification.
func (b *ContextBuilder) Build(ctx context.Context, msg *Message, inheritedFolder string) (*PromptContext, error) {
	pc := &PromptContext{
		Message:         msg,
		InheritedFolder: inheritedFolder,
		Preferences:     b.preferences,
	}

	prior, err := b.history.Prior(ctx, msg.Sender)
	if err != nil {
		return nil, fmt.Errorf("loading sender prior: %w", err)
	}
	pc.SenderDistribution = prior

	if msg.ConversationID != "" && msg.ThreadDepth > 0 {
		thread, err := b.provider.GetThreadMessages(ctx, msg.ConversationID, b.threadLimit+1)
		if err != nil {
			b.logger.Warn("Failed to fetch thread context, classifying without it",
				zap.String("conversation_id", msg.ConversationID),
				zap.Error(err))
		} else {
			for _, tm := range thread {
				if tm.ExternalID == msg.ExternalID {
					continue
				}
				pc.ThreadMessages = append(pc.ThreadMessages, ThreadMessage{
					Sender:  tm.Sender,
					Snippet: b.text.ProcessText(tm.Snippet, b.threadSnippet),
				})
				if len(pc.ThreadMessages) == b.threadLimit {
					break
				}
			}
		}
	}

	return pc, nil
}
