package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Inheritance is the outcome of a thread-inheritance lookup. Folder is only
// meaningful when Inherit is true; confidence is the fixed inherited value.
// Priority and action type are never inherited and must come from a full
// classification with the inherited folder supplied as a hint.
type Inheritance struct {
	Inherit    bool
	Folder     string
	Confidence float64
}

// ThreadResolver decides whether a message can reuse the folder of the most
// recently resolved suggestion in its conversation.
type ThreadResolver struct {
	store      TriageStore
	ownDomains map[string]bool
	logger     *zap.Logger
	caser      cases.Caser
}

// NewThreadResolver creates a resolver. ownDomains lists the account's own
// sending domains, which are always treated as known thread participants so
// the user's replies never force re-classification.
func NewThreadResolver(store TriageStore, ownDomains []string, logger *zap.Logger) *ThreadResolver {
	known := make(map[string]bool, len(ownDomains))
	for _, d := range ownDomains {
		known[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &ThreadResolver{
		store:      store,
		ownDomains: known,
		logger:     logger,
		caser:      cases.Fold(),
	}
}

// Resolve returns the inherited folder for msg, or a zero Inheritance when
// the thread has no usable prior classification or an override check fires.
func (r *ThreadResolver) Resolve(ctx context.Context, msg *Message) (Inheritance, error) {
	if msg.ConversationID == "" {
		return Inheritance{}, nil
	}

	prior, priorMsg, err := r.store.LatestResolvedInThread(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Inheritance{}, nil
		}
		return Inheritance{}, err
	}

	// Override (a): the normalized topic moved on, this is effectively a new
	// conversation riding the same thread ID.
	if r.normalizeTopic(msg.Subject) != r.normalizeTopic(priorMsg.Subject) {
		r.logger.Debug("Thread topic changed, forcing full classification",
			zap.String("message_id", msg.ExternalID),
			zap.String("conversation_id", msg.ConversationID))
		return Inheritance{}, nil
	}

	// Override (b): a sender domain the thread has never seen.
	newDomain := msg.SenderDomain()
	if newDomain != "" && !r.ownDomains[newDomain] {
		domains, err := r.store.ThreadDomains(ctx, msg.ConversationID)
		if err != nil {
			return Inheritance{}, err
		}
		seen := false
		for _, d := range domains {
			if strings.EqualFold(d, newDomain) {
				seen = true
				break
			}
		}
		if !seen {
			r.logger.Debug("New sender domain in thread, forcing full classification",
				zap.String("message_id", msg.ExternalID),
				zap.String("domain", newDomain))
			return Inheritance{}, nil
		}
	}

	return Inheritance{
		Inherit:    true,
		Folder:     prior.EffectiveFolder(),
		Confidence: InheritedConfidence,
	}, nil
}

// Reply and forward markers stripped during topic normalization. Matched
// case-insensitively, repeatedly, so "Re: Fwd: Re: x" reduces to "x".
var topicMarkers = []string{"re:", "fwd:", "fw:", "aw:", "sv:"}

// normalizeTopic case-folds the subject and strips leading reply/forward
// markers and surrounding whitespace.
func (r *ThreadResolver) normalizeTopic(subject string) string {
	topic := strings.TrimSpace(r.caser.String(subject))
	for {
		stripped := false
		for _, marker := range topicMarkers {
			if strings.HasPrefix(topic, marker) {
				topic = strings.TrimSpace(topic[len(marker):])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(strings.Fields(topic), " ")
}
