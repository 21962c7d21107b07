package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TriageOptions tunes one service instance. Zero values fall back to the
// defaults below.
type TriageOptions struct {
	// MaxMessagesPerCycle caps how many feed messages one cycle ingests.
	MaxMessagesPerCycle int
	// ClassifyConcurrency bounds parallel classifier calls within a cycle.
	ClassifyConcurrency int
	// PendingMaxAge is how long a suggestion may sit pending before expiry.
	PendingMaxAge time.Duration
	// BacklogBatch is how many queued messages a drain pass picks up.
	BacklogBatch int
	// DegradedPriority and DegradedAction fill the fields the classifier
	// would normally produce when an inherited message is decided during
	// rules-only mode.
	DegradedPriority Priority
	DegradedAction   ActionType
}

func (o *TriageOptions) applyDefaults() {
	if o.MaxMessagesPerCycle <= 0 {
		o.MaxMessagesPerCycle = 200
	}
	if o.ClassifyConcurrency <= 0 {
		o.ClassifyConcurrency = 4
	}
	if o.PendingMaxAge <= 0 {
		o.PendingMaxAge = 7 * 24 * time.Hour
	}
	if o.BacklogBatch <= 0 {
		o.BacklogBatch = 50
	}
	if !ValidPriority(o.DegradedPriority) {
		o.DegradedPriority = PriorityP3
	}
	if !ValidActionType(o.DegradedAction) {
		o.DegradedAction = ActionReview
	}
}

// TriageService drives one cycle at a time through fetch, dedupe, decide,
// persist, profile update and checkpoint. Strategies apply in strict
// priority order: auto-rule, then thread inheritance, then full
// classification.
type TriageService struct {
	provider     MailProvider
	store        TriageStore
	ledger       *Ledger
	rules        *RuleSet
	resolver     *ThreadResolver
	classifier   *ClassifierClient
	contexts     *ContextBuilder
	controller   *DegradationController
	history      *SenderHistory
	autoApprover *AutoApprover
	providerGate CallGate
	logger       *zap.Logger
	opts         TriageOptions

	cycleMu sync.Mutex
	now     func() time.Time
	newID   func() string
}

// NewTriageService wires the pipeline together.
func NewTriageService(
	provider MailProvider,
	store TriageStore,
	ledger *Ledger,
	rules *RuleSet,
	resolver *ThreadResolver,
	classifier *ClassifierClient,
	contexts *ContextBuilder,
	controller *DegradationController,
	history *SenderHistory,
	autoApprover *AutoApprover,
	providerGate CallGate,
	logger *zap.Logger,
	opts TriageOptions,
) *TriageService {
	opts.applyDefaults()
	return &TriageService{
		provider:     provider,
		store:        store,
		ledger:       ledger,
		rules:        rules,
		resolver:     resolver,
		classifier:   classifier,
		contexts:     contexts,
		controller:   controller,
		history:      history,
		autoApprover: autoApprover,
		providerGate: providerGate,
		logger:       logger,
		opts:         opts,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// candidate is one message headed for the remote classifier.
type candidate struct {
	msg             *Message
	inheritedFolder string
}

// classifyOutcome is the per-message result of a classifier worker, applied
// to the store one at a time by the collector.
type classifyOutcome struct {
	cand     candidate
	result   *Classification
	attempts int
	err      error
}

// RunCycle executes one full triage cycle. Per-message failures never abort
// the cycle; only checkpoint failure does. The cursor commits after every
// suggestion persisted, so a crash mid-cycle re-fetches the same batch and
// the ledger makes the re-run a no-op.
func (s *TriageService) RunCycle(ctx context.Context) (*CycleStats, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	stats := &CycleStats{}

	state, err := s.store.GetPipelineState(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading pipeline state: %w", err)
	}
	s.controller.Restore(state)

	fetched, nextCursor, err := s.fetch(ctx, state.Cursor)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(fetched)

	decideList, err := s.dedupe(ctx, fetched, stats)
	if err != nil {
		return stats, err
	}

	// Pick up messages stranded unclassified by earlier failures or
	// cancellations. Oldest first, so the backlog drains FIFO.
	if s.controller.Mode() == ModeNormal {
		decideList = s.mergeBacklog(ctx, decideList, stats)
	}

	if err := s.decide(ctx, decideList, stats); err != nil {
		return stats, err
	}

	if n, err := s.store.ExpirePending(ctx, s.now().Add(-s.opts.PendingMaxAge)); err != nil {
		s.logger.Error("Failed to expire stale suggestions", zap.Error(err))
	} else {
		stats.Expired = n
	}

	if s.autoApprover != nil {
		n, err := s.autoApprover.Sweep(ctx)
		if err != nil {
			s.logger.Error("Auto-approval sweep failed", zap.Error(err))
		}
		stats.AutoApproved = n
	}

	if s.controller.TakeDrainRequest() {
		if err := s.drainBacklog(ctx, stats); err != nil {
			s.logger.Error("Backlog drain interrupted", zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		// Aborted between messages: skip the checkpoint so the next cycle
		// re-fetches this batch. Nothing is half-decided.
		return stats, err
	}

	failures, mode, lastSuccess := s.controller.Snapshot()
	state.ConsecutiveFailures = failures
	state.Mode = mode
	state.LastSuccess = lastSuccess
	state.Cursor = nextCursor
	state.UpdatedAt = s.now()
	if err := s.store.SavePipelineState(ctx, state); err != nil {
		return stats, fmt.Errorf("checkpointing cycle: %w", err)
	}

	s.logger.Info("Triage cycle complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("new", stats.New),
		zap.Int("auto_ruled", stats.AutoRuled),
		zap.Int("inherited", stats.Inherited),
		zap.Int("classified", stats.Classified),
		zap.Int("failed", stats.Failed),
		zap.Int("queued", stats.Queued),
		zap.String("mode", string(mode)))

	return stats, nil
}

// fetch pulls feed pages until the feed is exhausted or the per-cycle cap is
// reached. Provider calls go through the rate limiter.
func (s *TriageService) fetch(ctx context.Context, cursor string) ([]*Message, string, error) {
	var all []*Message
	for {
		if err := s.providerGate.Acquire(ctx); err != nil {
			return nil, "", fmt.Errorf("provider call gate: %w", err)
		}
		page, err := s.provider.ListNewMessages(ctx, cursor)
		if err != nil {
			return nil, "", fmt.Errorf("listing new messages: %w", err)
		}
		all = append(all, page.Messages...)
		cursor = page.NextCursor
		if cursor == "" || len(all) >= s.opts.MaxMessagesPerCycle {
			return all, cursor, nil
		}
	}
}

// dedupe runs every fetched message through the ingest ledger and returns
// the ones that still need a decision.
func (s *TriageService) dedupe(ctx context.Context, fetched []*Message, stats *CycleStats) ([]*Message, error) {
	var decideList []*Message
	inCycle := make(map[string]bool, len(fetched))

	for _, msg := range fetched {
		if err := ctx.Err(); err != nil {
			return decideList, nil
		}
		if inCycle[msg.ExternalID] {
			stats.Unchanged++
			continue
		}
		inCycle[msg.ExternalID] = true

		seen, err := s.ledger.RecordSeen(ctx, msg)
		if err != nil {
			s.logger.Error("Ledger failure, skipping message this cycle",
				zap.String("message_id", msg.ExternalID),
				zap.Error(err))
			continue
		}
		switch seen {
		case SeenNew:
			stats.New++
			if err := s.history.RecordSighting(ctx, msg); err != nil {
				s.logger.Error("Failed to record sender sighting", zap.Error(err))
			}
			decideList = append(decideList, msg)
		case SeenRetry:
			stats.Retried++
			decideList = append(decideList, msg)
		case SeenMoved:
			stats.Moved++
		case SeenUnchanged:
			stats.Unchanged++
		}
	}
	return decideList, nil
}

// mergeBacklog appends stranded unclassified messages to the decide list,
// skipping any already present.
func (s *TriageService) mergeBacklog(ctx context.Context, decideList []*Message, stats *CycleStats) []*Message {
	backlog, err := s.store.UnclassifiedBacklog(ctx, s.opts.BacklogBatch)
	if err != nil {
		s.logger.Error("Failed to load unclassified backlog", zap.Error(err))
		return decideList
	}
	present := make(map[string]bool, len(decideList))
	for _, m := range decideList {
		present[m.ExternalID] = true
	}
	for _, m := range backlog {
		if present[m.ExternalID] {
			continue
		}
		decideList = append(decideList, m)
		stats.Retried++
	}
	return decideList
}

// decide applies the strategy ladder to every message, then runs the
// full-classification candidates through a bounded worker pool. Outcomes are
// applied to the store one at a time.
func (s *TriageService) decide(ctx context.Context, msgs []*Message, stats *CycleStats) error {
	rulesOnly := s.controller.Mode() == ModeRulesOnly
	var candidates []candidate

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if rule := s.rules.Match(msg); rule != nil {
			s.applyRule(ctx, msg, rule, stats)
			continue
		}

		inh, err := s.resolver.Resolve(ctx, msg)
		if err != nil {
			s.logger.Error("Thread inheritance lookup failed",
				zap.String("message_id", msg.ExternalID),
				zap.Error(err))
		}
		if inh.Inherit && rulesOnly {
			// Inheritance keeps working while degraded; only the fresh
			// priority and action type are unavailable, so defaults fill in.
			s.applyDegradedInheritance(ctx, msg, inh, stats)
			continue
		}

		candidates = append(candidates, candidate{msg: msg, inheritedFolder: inh.Folder})
	}

	if len(candidates) == 0 {
		s.controller.ObserveCycle(0, 0)
		return nil
	}

	if rulesOnly {
		// One probe per cycle tests whether the classifier recovered; the
		// rest stay queued.
		probe := candidates[0]
		for _, c := range candidates[1:] {
			stats.Queued++
			s.logger.Debug("Rules-only mode, message queued",
				zap.String("message_id", c.msg.ExternalID))
		}
		out := s.classifyOne(ctx, probe)
		succeeded := 0
		if out.err != nil && !IsPermanent(out.err) {
			// While degraded, a still-failing probe stays queued rather
			// than burning through its retries.
			stats.Queued++
			probe.msg.Attempts += out.attempts
			if serr := s.store.SetMessageStatus(ctx, probe.msg.ExternalID, StatusUnclassified, probe.msg.Attempts); serr != nil {
				s.logger.Error("Failed to persist probe attempt", zap.Error(serr))
			}
		} else if s.applyOutcome(ctx, out, stats) {
			succeeded = 1
		}
		s.controller.ObserveCycle(1, succeeded)
		return nil
	}

	attempted, succeeded := s.classifyAll(ctx, candidates, stats)
	s.controller.ObserveCycle(attempted, succeeded)
	return nil
}

// classifyAll fans candidates out to a bounded worker pool and applies the
// outcomes serially, preserving the one-pending-suggestion invariant.
func (s *TriageService) classifyAll(ctx context.Context, candidates []candidate, stats *CycleStats) (attempted, succeeded int) {
	jobs := make(chan candidate)
	outcomes := make(chan classifyOutcome)

	workers := s.opts.ClassifyConcurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for cand := range jobs {
				outcomes <- s.classifyOne(ctx, cand)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, cand := range candidates {
			select {
			case jobs <- cand:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		attempted++
		if s.applyOutcome(ctx, out, stats) {
			succeeded++
		}
	}
	return attempted, succeeded
}

// classifyOne builds the enriched context and runs the retry ladder for one
// message.
func (s *TriageService) classifyOne(ctx context.Context, cand candidate) classifyOutcome {
	pc, err := s.contexts.Build(ctx, cand.msg, cand.inheritedFolder)
	if err != nil {
		return classifyOutcome{cand: cand, err: err}
	}
	strategy := StrategyFullClassify
	if cand.inheritedFolder != "" {
		strategy = StrategyThreadInherit
	}
	result, attempts, err := s.classifier.Classify(ctx, pc, strategy)
	return classifyOutcome{cand: cand, result: result, attempts: attempts, err: err}
}

// applyOutcome persists one classification outcome and reports success.
func (s *TriageService) applyOutcome(ctx context.Context, out classifyOutcome, stats *CycleStats) bool {
	msg := out.cand.msg
	msg.Attempts += out.attempts

	if out.err != nil {
		switch {
		case IsPermanent(out.err), out.attempts >= maxClassifyAttempts:
			stats.Failed++
			if serr := s.store.SetMessageStatus(ctx, msg.ExternalID, StatusFailed, msg.Attempts); serr != nil {
				s.logger.Error("Failed to mark message failed", zap.Error(serr))
			}
			s.logger.Warn("Message exhausted classification attempts",
				zap.String("message_id", msg.ExternalID),
				zap.Int("attempts", msg.Attempts),
				zap.Error(out.err))
		default:
			// Rate limit or cancellation before the ceiling: stay
			// unclassified and retry whole next cycle.
			stats.Queued++
			if serr := s.store.SetMessageStatus(ctx, msg.ExternalID, StatusUnclassified, msg.Attempts); serr != nil {
				s.logger.Error("Failed to persist attempt counter", zap.Error(serr))
			}
		}
		return false
	}

	sug := &Suggestion{
		ID:         s.newID(),
		MessageID:  msg.ExternalID,
		Folder:     out.result.Folder,
		Priority:   out.result.Priority,
		ActionType: out.result.ActionType,
		Confidence: out.result.Confidence,
		Rationale:  out.result.Rationale,
		Strategy:   StrategyFullClassify,
		Status:     SuggestionPending,
		CreatedAt:  s.now(),
	}
	if out.cand.inheritedFolder != "" {
		// The folder decision came from the thread, only priority and
		// action type are the classifier's.
		sug.Folder = out.cand.inheritedFolder
		sug.Confidence = InheritedConfidence
		sug.Strategy = StrategyThreadInherit
		stats.Inherited++
	} else {
		stats.Classified++
	}

	if err := s.persistSuggestion(ctx, msg, sug); err != nil {
		s.logger.Error("Failed to persist suggestion, message stays queued",
			zap.String("message_id", msg.ExternalID),
			zap.Error(err))
		return false
	}
	return true
}

// applyRule short-circuits the pipeline with a rule's fixed output. The
// classifier never runs and no confidence is computed.
func (s *TriageService) applyRule(ctx context.Context, msg *Message, rule *AutoRule, stats *CycleStats) {
	sug := &Suggestion{
		ID:         s.newID(),
		MessageID:  msg.ExternalID,
		Folder:     rule.Folder,
		Priority:   rule.Priority,
		ActionType: rule.ActionType,
		Confidence: 1.0,
		Rationale:  fmt.Sprintf("matched auto-rule %q", rule.Name),
		Strategy:   StrategyAutoRule,
		Status:     SuggestionPending,
		CreatedAt:  s.now(),
	}
	if err := s.persistSuggestion(ctx, msg, sug); err != nil {
		s.logger.Error("Failed to persist auto-rule suggestion",
			zap.String("message_id", msg.ExternalID),
			zap.Error(err))
		return
	}
	stats.AutoRuled++
}

// applyDegradedInheritance decides an inherited message while the classifier
// is unavailable: the folder comes from the thread, priority and action type
// from configured defaults.
func (s *TriageService) applyDegradedInheritance(ctx context.Context, msg *Message, inh Inheritance, stats *CycleStats) {
	sug := &Suggestion{
		ID:         s.newID(),
		MessageID:  msg.ExternalID,
		Folder:     inh.Folder,
		Priority:   s.opts.DegradedPriority,
		ActionType: s.opts.DegradedAction,
		Confidence: inh.Confidence,
		Rationale:  "inherited from thread while classifier degraded",
		Strategy:   StrategyThreadInherit,
		Status:     SuggestionPending,
		CreatedAt:  s.now(),
	}
	if err := s.persistSuggestion(ctx, msg, sug); err != nil {
		s.logger.Error("Failed to persist inherited suggestion",
			zap.String("message_id", msg.ExternalID),
			zap.Error(err))
		return
	}
	stats.Inherited++
}

// persistSuggestion stores the suggestion and flips the message to
// classified. CreateSuggestion expires any outstanding pending suggestion
// for the message in the same transaction.
func (s *TriageService) persistSuggestion(ctx context.Context, msg *Message, sug *Suggestion) error {
	if err := s.store.CreateSuggestion(ctx, sug); err != nil {
		return err
	}
	msg.Status = StatusClassified
	return s.store.SetMessageStatus(ctx, msg.ExternalID, StatusClassified, msg.Attempts)
}

// drainBacklog classifies queued messages serially after degraded mode ends.
// Serial draining plus the call gate keeps the recovery from bursting
// against the classifier.
func (s *TriageService) drainBacklog(ctx context.Context, stats *CycleStats) error {
	backlog, err := s.store.UnclassifiedBacklog(ctx, s.opts.BacklogBatch)
	if err != nil {
		return fmt.Errorf("loading backlog: %w", err)
	}
	s.logger.Info("Draining classification backlog", zap.Int("queued", len(backlog)))

	for _, msg := range backlog {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rule := s.rules.Match(msg); rule != nil {
			s.applyRule(ctx, msg, rule, stats)
			stats.Drained++
			continue
		}
		inh, err := s.resolver.Resolve(ctx, msg)
		if err != nil {
			s.logger.Error("Thread inheritance lookup failed during drain", zap.Error(err))
		}
		out := s.classifyOne(ctx, candidate{msg: msg, inheritedFolder: inh.Folder})
		if s.applyOutcome(ctx, out, stats) {
			stats.Drained++
		}
	}
	return nil
}
