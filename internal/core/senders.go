package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Gates on the sender prior supplied to the classifier: the distribution is
// only worth sending when it has enough data points and a clear winner.
const (
	senderPriorMinSamples = 5
	senderPriorMinShare   = 0.8
)

// SenderHistory maintains per-sender aggregates of confirmed classifications
// and derives the prior handed to the classifier.
type SenderHistory struct {
	store  TriageStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSenderHistory creates a sender history index over the given store.
func NewSenderHistory(store TriageStore, logger *zap.Logger) *SenderHistory {
	return &SenderHistory{store: store, logger: logger, now: time.Now}
}

// Prior returns the sender's confirmed-folder distribution if it clears the
// gates (at least 5 samples, top folder above an 80% share), otherwise nil.
func (h *SenderHistory) Prior(ctx context.Context, sender string) (map[string]int, error) {
	dist, err := h.store.SenderFolderDistribution(ctx, sender)
	if err != nil {
		return nil, err
	}

	total, top := 0, 0
	for _, n := range dist {
		total += n
		if n > top {
			top = n
		}
	}
	if total < senderPriorMinSamples {
		return nil, nil
	}
	if float64(top)/float64(total) <= senderPriorMinShare {
		return nil, nil
	}
	return dist, nil
}

// RecordSighting bumps the sender's email count and last-seen timestamp,
// creating the profile on first sight.
func (h *SenderHistory) RecordSighting(ctx context.Context, msg *Message) error {
	profile, err := h.store.GetSenderProfile(ctx, msg.Sender)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		profile = &SenderProfile{
			Sender:      msg.Sender,
			Domain:      msg.SenderDomain(),
			Category:    categorizeSender(msg.Sender),
			DisplayName: displayNameFor(msg.Sender),
		}
	}

	profile.EmailCount++
	profile.LastSeen = h.now()
	return h.store.UpsertSenderProfile(ctx, profile)
}

// RecordResolution refreshes the profile's top folder and rule-candidate flag
// after a suggestion involving the sender resolved.
func (h *SenderHistory) RecordResolution(ctx context.Context, sender string) error {
	profile, err := h.store.GetSenderProfile(ctx, sender)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		profile = &SenderProfile{
			Sender:      sender,
			Domain:      DomainOf(sender),
			Category:    categorizeSender(sender),
			DisplayName: displayNameFor(sender),
			LastSeen:    h.now(),
		}
	}

	dist, err := h.store.SenderFolderDistribution(ctx, sender)
	if err != nil {
		return err
	}

	total, top, topFolder := 0, 0, ""
	for folder, n := range dist {
		total += n
		if n > top {
			top = n
			topFolder = folder
		}
	}

	profile.TopFolder = topFolder
	profile.RuleCandidate = profile.EmailCount >= RuleCandidateMinEmails &&
		total > 0 &&
		float64(top)/float64(total) >= RuleCandidateMinShare

	if profile.RuleCandidate {
		h.logger.Info("Sender is a strong auto-rule candidate",
			zap.String("sender", sender),
			zap.String("folder", topFolder),
			zap.Int("emails", profile.EmailCount))
	}

	return h.store.UpsertSenderProfile(ctx, profile)
}

// categorizeSender infers a coarse category from the address alone.
func categorizeSender(address string) string {
	local := strings.ToLower(strings.SplitN(address, "@", 2)[0])
	switch {
	case strings.Contains(local, "noreply"), strings.Contains(local, "no-reply"),
		strings.Contains(local, "notification"), strings.Contains(local, "donotreply"):
		return "automated"
	case strings.Contains(local, "newsletter"), strings.Contains(local, "news"),
		strings.Contains(local, "digest"):
		return "newsletter"
	case strings.Contains(local, "support"), strings.Contains(local, "help"),
		strings.Contains(local, "service"):
		return "support"
	case strings.Contains(local, "billing"), strings.Contains(local, "invoice"),
		strings.Contains(local, "receipt"):
		return "billing"
	default:
		return "person"
	}
}

// displayNameFor derives a fallback display name from the local part.
func displayNameFor(address string) string {
	local := strings.SplitN(address, "@", 2)[0]
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)
	return strings.TrimSpace(local)
}
