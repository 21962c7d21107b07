package core

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// SeenResult classifies one sighting of a remote message identifier.
type SeenResult int

const (
	// SeenNew means the message was never recorded before and must be
	// classified.
	SeenNew SeenResult = iota
	// SeenRetry means the message is known but still unclassified, usually a
	// previous cycle's failure or cancellation; it re-enters the pipeline.
	SeenRetry
	// SeenMoved means a classified message turned up in a different folder.
	// Only the stored folder is updated, the message is not reclassified.
	SeenMoved
	// SeenUnchanged means nothing to do.
	SeenUnchanged
)

func (r SeenResult) String() string {
	switch r {
	case SeenNew:
		return "new"
	case SeenRetry:
		return "retry"
	case SeenMoved:
		return "moved"
	case SeenUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// Ledger is the deduplication layer in front of the pipeline. The remote feed
// may repeat messages across pages and re-deliver them after folder moves;
// RecordSeen guarantees each message is classified at most once per content.
type Ledger struct {
	store  TriageStore
	logger *zap.Logger
}

// NewLedger creates a ledger over the given store.
func NewLedger(store TriageStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// RecordSeen records one sighting of msg and returns how the pipeline should
// treat it. New messages are persisted before returning.
func (l *Ledger) RecordSeen(ctx context.Context, msg *Message) (SeenResult, error) {
	existing, err := l.store.GetMessage(ctx, msg.ExternalID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return SeenUnchanged, err
		}
		msg.Status = StatusUnclassified
		if err := l.store.CreateMessage(ctx, msg); err != nil {
			return SeenUnchanged, err
		}
		return SeenNew, nil
	}

	if existing.Status == StatusUnclassified {
		// Carry over what the previous sighting accumulated.
		msg.Status = existing.Status
		msg.Attempts = existing.Attempts
		return SeenRetry, nil
	}

	if existing.Folder != msg.Folder {
		if err := l.store.UpdateMessageFolder(ctx, msg.ExternalID, msg.Folder); err != nil {
			return SeenUnchanged, err
		}
		l.logger.Debug("Recorded folder move",
			zap.String("message_id", msg.ExternalID),
			zap.String("from", existing.Folder),
			zap.String("to", msg.Folder))
		return SeenMoved, nil
	}

	return SeenUnchanged, nil
}
