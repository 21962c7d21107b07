// Package gmail adapts the Gmail API to the pipeline's MailProvider port.
// Gmail has labels rather than folders; the provider treats the first
// user-visible label as the message's folder and implements moves as label
// swaps.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mikey/llm-mail-triage/internal/core"
)

var metadataHeaders = []string{"From", "Subject", "Date"}

// Provider implements core.MailProvider over the Gmail API.
type Provider struct {
	svc      *gmailv1.Service
	userID   string
	pageSize int64
	logger   *zap.Logger

	mu     sync.Mutex
	labels map[string]string // label name -> label ID
}

// NewProvider creates a Gmail provider for the given user.
func NewProvider(svc *gmailv1.Service, userID string, pageSize int, logger *zap.Logger) *Provider {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Provider{
		svc:      svc,
		userID:   userID,
		pageSize: int64(pageSize),
		logger:   logger,
	}
}

// ListNewMessages returns one page of inbox messages. The cursor is Gmail's
// page token; an empty next cursor means the feed is exhausted for this
// cycle and the next cycle starts from the top, re-delivering messages the
// ingest ledger already knows.
func (p *Provider) ListNewMessages(ctx context.Context, cursor string) (*core.MessagePage, error) {
	call := p.svc.Users.Messages.List(p.userID).
		LabelIds("INBOX").
		MaxResults(p.pageSize).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapError("list messages", err)
	}

	page := &core.MessagePage{NextCursor: resp.NextPageToken}
	for _, ref := range resp.Messages {
		msg, err := p.getMessage(ctx, ref.Id)
		if err != nil {
			if core.IsPermanent(err) {
				p.logger.Warn("Skipping unreadable message",
					zap.String("message_id", ref.Id),
					zap.Error(err))
				continue
			}
			return nil, err
		}
		page.Messages = append(page.Messages, msg)
	}
	return page, nil
}

// GetThreadMessages returns up to limit messages of a conversation, oldest
// first.
func (p *Provider) GetThreadMessages(ctx context.Context, conversationID string, limit int) ([]*core.Message, error) {
	thread, err := p.svc.Users.Threads.Get(p.userID, conversationID).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("get thread", err)
	}

	var msgs []*core.Message
	for i, m := range thread.Messages {
		if limit > 0 && len(msgs) == limit {
			break
		}
		msgs = append(msgs, p.convert(m, i))
	}
	return msgs, nil
}

// MoveMessage applies the label named folder and removes INBOX, creating the
// label on first use.
func (p *Provider) MoveMessage(ctx context.Context, externalID, folder string) error {
	labelID, err := p.labelID(ctx, folder)
	if err != nil {
		return err
	}

	_, err = p.svc.Users.Messages.Modify(p.userID, externalID, &gmailv1.ModifyMessageRequest{
		AddLabelIds:    []string{labelID},
		RemoveLabelIds: []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return mapError("move message", err)
	}
	return nil
}

// SetLabels replaces the message's user labels with the given set. System
// labels (UNREAD, STARRED, INBOX and friends) are left alone.
func (p *Provider) SetLabels(ctx context.Context, externalID string, labels []string) error {
	msg, err := p.svc.Users.Messages.Get(p.userID, externalID).
		Format("minimal").
		Context(ctx).
		Do()
	if err != nil {
		return mapError("get message", err)
	}

	var remove []string
	for _, id := range msg.LabelIds {
		if !isSystemLabel(id) {
			remove = append(remove, id)
		}
	}

	var add []string
	for _, name := range labels {
		id, err := p.labelID(ctx, name)
		if err != nil {
			return err
		}
		add = append(add, id)
	}

	_, err = p.svc.Users.Messages.Modify(p.userID, externalID, &gmailv1.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
	if err != nil {
		return mapError("set labels", err)
	}
	return nil
}

func (p *Provider) getMessage(ctx context.Context, id string) (*core.Message, error) {
	msg, err := p.svc.Users.Messages.Get(p.userID, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("get message", err)
	}
	return p.convert(msg, -1), nil
}

// convert maps a Gmail message to the pipeline's model. threadIndex is the
// position within a fetched thread, or -1 when unknown; in that case reply
// markers on the subject stand in for the depth.
func (p *Provider) convert(msg *gmailv1.Message, threadIndex int) *core.Message {
	var from, subject string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				from = h.Value
			case "subject":
				subject = h.Value
			}
		}
	}

	m := &core.Message{
		ExternalID:     msg.Id,
		ConversationID: msg.ThreadId,
		Subject:        subject,
		Sender:         senderAddress(from),
		ReceivedAt:     time.UnixMilli(msg.InternalDate).UTC(),
		Snippet:        msg.Snippet,
		Folder:         folderOf(msg.LabelIds),
	}

	for _, id := range msg.LabelIds {
		switch id {
		case "IMPORTANT":
			m.Important = true
		case "UNREAD":
			// Gmail tracks unread, the model tracks read.
		case "STARRED":
			m.Flagged = true
		}
	}
	m.Read = !hasLabel(msg.LabelIds, "UNREAD")

	if threadIndex >= 0 {
		m.ThreadDepth = threadIndex
	} else if isReplySubject(subject) {
		m.ThreadDepth = 1
	}

	return m
}

// labelID resolves a label name to its ID, creating the label if needed. The
// mapping is cached for the provider's lifetime.
func (p *Provider) labelID(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.labels == nil {
		resp, err := p.svc.Users.Labels.List(p.userID).Context(ctx).Do()
		if err != nil {
			return "", mapError("list labels", err)
		}
		p.labels = make(map[string]string, len(resp.Labels))
		for _, l := range resp.Labels {
			p.labels[l.Name] = l.Id
		}
	}

	if id, ok := p.labels[name]; ok {
		return id, nil
	}

	label, err := p.svc.Users.Labels.Create(p.userID, &gmailv1.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", mapError("create label", err)
	}
	p.logger.Info("Created Gmail label", zap.String("label", name))
	p.labels[name] = label.Id
	return label.Id, nil
}

// folderOf picks the message's folder: the first non-system label, falling
// back to INBOX.
func folderOf(labelIDs []string) string {
	for _, id := range labelIDs {
		if !isSystemLabel(id) {
			return id
		}
	}
	return "INBOX"
}

func isSystemLabel(id string) bool {
	switch id {
	case "INBOX", "SENT", "DRAFT", "TRASH", "SPAM", "UNREAD", "STARRED", "IMPORTANT":
		return true
	}
	return strings.HasPrefix(id, "CATEGORY_")
}

func hasLabel(labelIDs []string, want string) bool {
	for _, id := range labelIDs {
		if id == want {
			return true
		}
	}
	return false
}

// senderAddress extracts the bare address from a From header value.
func senderAddress(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from)
	}
	return strings.ToLower(addr.Address)
}

var replyPrefixes = []string{"re:", "fwd:", "fw:"}

func isReplySubject(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// mapError translates Gmail API failures into the pipeline's error taxonomy.
func mapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || isRateLimited(apiErr):
			return &core.RateLimitError{RetryAfter: retryAfter(apiErr), Err: err}
		case apiErr.Code >= 500:
			return &core.TransientError{Op: "gmail " + op, Err: err}
		case apiErr.Code == 404:
			return core.ErrNotFound
		default:
			return &core.PermanentError{
				Reason: fmt.Sprintf("gmail %s rejected with status %d", op, apiErr.Code),
				Err:    err,
			}
		}
	}
	return &core.TransientError{Op: "gmail " + op, Err: err}
}

// Gmail reports quota exhaustion as 403 with specific reasons.
func isRateLimited(apiErr *googleapi.Error) bool {
	if apiErr.Code != 403 {
		return false
	}
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func retryAfter(apiErr *googleapi.Error) time.Duration {
	if apiErr.Header == nil {
		return 0
	}
	if v := apiErr.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}
