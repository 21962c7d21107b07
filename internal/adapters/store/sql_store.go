// Package store persists messages, suggestions, sender profiles and pipeline
// state in SQLite or MySQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/core"
)

// SQLStore is a SQL implementation of the TriageStore interface. The same
// code serves both dialects; only the schema differs.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent review resolutions.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteSchema, logger)
}

// NewMySQLStore connects to a MySQL database and ensures the schema exists.
// The DSN must carry parseTime=true so TIMESTAMP columns scan into time.Time.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return newSQLStore(db, mysqlSchema, logger)
}

func newSQLStore(db *sql.DB, schema []string, logger *zap.Logger) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const messageColumns = `external_id, conversation_id, thread_depth, subject, sender,
	received_at, snippet, folder, important, is_read, flagged, replied,
	status, attempts, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*core.Message, error) {
	var m core.Message
	var status string
	err := row.Scan(
		&m.ExternalID, &m.ConversationID, &m.ThreadDepth, &m.Subject, &m.Sender,
		&m.ReceivedAt, &m.Snippet, &m.Folder, &m.Important, &m.Read, &m.Flagged,
		&m.Replied, &status, &m.Attempts, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = core.ClassificationStatus(status)
	return &m, nil
}

func (s *SQLStore) GetMessage(ctx context.Context, externalID string) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE external_id = ?
	`, externalID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) CreateMessage(ctx context.Context, msg *core.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ExternalID, msg.ConversationID, msg.ThreadDepth, msg.Subject, msg.Sender,
		msg.ReceivedAt, msg.Snippet, msg.Folder, msg.Important, msg.Read, msg.Flagged,
		msg.Replied, string(msg.Status), msg.Attempts, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateMessageFolder(ctx context.Context, externalID, folder string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET folder = ? WHERE external_id = ?
	`, folder, externalID)
	if err != nil {
		return fmt.Errorf("failed to update message folder: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) SetMessageStatus(ctx context.Context, externalID string, status core.ClassificationStatus, attempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, attempts = ? WHERE external_id = ?
	`, string(status), attempts, externalID)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) UnclassifiedBacklog(ctx context.Context, limit int) ([]*core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = ?
		ORDER BY created_at, external_id
		LIMIT ?
	`, string(core.StatusUnclassified), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	defer rows.Close()

	var msgs []*core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLStore) ThreadDomains(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sender FROM messages WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread senders: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var domains []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("failed to scan sender: %w", err)
		}
		if d := core.DomainOf(sender); d != "" && !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	return domains, rows.Err()
}

const suggestionColumns = `id, message_id, folder, priority, action_type, confidence,
	rationale, strategy, status, approved_folder, approved_priority,
	approved_action_type, created_at, resolved_at`

func scanSuggestion(row interface{ Scan(...any) error }) (*core.Suggestion, error) {
	var sug core.Suggestion
	var priority, actionType, strategy, status string
	var appFolder, appPriority, appAction sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&sug.ID, &sug.MessageID, &sug.Folder, &priority, &actionType, &sug.Confidence,
		&sug.Rationale, &strategy, &status, &appFolder, &appPriority, &appAction,
		&sug.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	sug.Priority = core.Priority(priority)
	sug.ActionType = core.ActionType(actionType)
	sug.Strategy = core.Strategy(strategy)
	sug.Status = core.ApprovalStatus(status)
	if appFolder.Valid {
		sug.ApprovedFolder = &appFolder.String
	}
	if appPriority.Valid {
		p := core.Priority(appPriority.String)
		sug.ApprovedPriority = &p
	}
	if appAction.Valid {
		a := core.ActionType(appAction.String)
		sug.ApprovedActionType = &a
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		sug.ResolvedAt = &t
	}
	return &sug, nil
}

func (s *SQLStore) CreateSuggestion(ctx context.Context, sug *core.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A message holds at most one pending suggestion; a newer proposal
	// supersedes the old one by expiring it.
	if _, err := tx.ExecContext(ctx, `
		UPDATE suggestions SET status = ?, resolved_at = ?
		WHERE message_id = ? AND status = ?
	`, string(core.SuggestionExpired), time.Now().UTC(), sug.MessageID, string(core.SuggestionPending)); err != nil {
		return fmt.Errorf("failed to expire prior pending suggestion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO suggestions (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sug.ID, sug.MessageID, sug.Folder, string(sug.Priority), string(sug.ActionType),
		sug.Confidence, sug.Rationale, string(sug.Strategy), string(sug.Status),
		nullStr(sug.ApprovedFolder), nullPriority(sug.ApprovedPriority),
		nullAction(sug.ApprovedActionType), sug.CreatedAt, nullTime(sug.ResolvedAt)); err != nil {
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) GetSuggestion(ctx context.Context, id string) (*core.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?
	`, id)
	sug, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query suggestion: %w", err)
	}
	return sug, nil
}

func (s *SQLStore) PendingForMessage(ctx context.Context, messageID string) (*core.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE message_id = ? AND status = ?
	`, messageID, string(core.SuggestionPending))
	sug, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query pending suggestion: %w", err)
	}
	return sug, nil
}

func (s *SQLStore) ListPending(ctx context.Context, limit int, cursor string) ([]*core.Suggestion, string, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid pending cursor %q: %w", cursor, err)
		}
		offset = n
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, string(core.SuggestionPending), limit, offset)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query pending suggestions: %w", err)
	}
	defer rows.Close()

	var sugs []*core.Suggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan suggestion: %w", err)
		}
		sugs = append(sugs, sug)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(sugs) == limit {
		next = strconv.Itoa(offset + len(sugs))
	}
	return sugs, next, nil
}

func (s *SQLStore) ResolveSuggestion(ctx context.Context, sug *core.Suggestion) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suggestions SET
			status = ?, approved_folder = ?, approved_priority = ?,
			approved_action_type = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(sug.Status), nullStr(sug.ApprovedFolder), nullPriority(sug.ApprovedPriority),
		nullAction(sug.ApprovedActionType), nullTime(sug.ResolvedAt),
		sug.ID, string(core.SuggestionPending))
	if err != nil {
		return fmt.Errorf("failed to resolve suggestion: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// Either the suggestion is unknown or someone else resolved it first.
		if _, err := s.GetSuggestion(ctx, sug.ID); err != nil {
			return err
		}
		return &core.ConflictError{Op: "resolve suggestion"}
	}
	return nil
}

func (s *SQLStore) ExpirePending(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suggestions SET status = ?, resolved_at = ?
		WHERE status = ? AND created_at < ?
	`, string(core.SuggestionExpired), time.Now().UTC(), string(core.SuggestionPending), olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending suggestions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// inheritableWhere selects suggestions whose folder a later message may reuse:
// confirmed ones, or rejections that carried a corrected folder.
const inheritableWhere = `(s.status IN ('approved', 'partial', 'auto_approved')
	OR (s.status = 'rejected' AND s.approved_folder IS NOT NULL))`

func (s *SQLStore) LatestResolvedInThread(ctx context.Context, conversationID string) (*core.Suggestion, *core.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.message_id, s.folder, s.priority, s.action_type, s.confidence,
			s.rationale, s.strategy, s.status, s.approved_folder, s.approved_priority,
			s.approved_action_type, s.created_at, s.resolved_at
		FROM suggestions s
		JOIN messages m ON m.external_id = s.message_id
		WHERE m.conversation_id = ? AND s.resolved_at IS NOT NULL AND `+inheritableWhere+`
		ORDER BY s.resolved_at DESC
		LIMIT 1
	`, conversationID)
	sug, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, core.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to query thread suggestion: %w", err)
	}

	msg, err := s.GetMessage(ctx, sug.MessageID)
	if err != nil {
		return nil, nil, err
	}
	return sug, msg, nil
}

func (s *SQLStore) SenderFolderDistribution(ctx context.Context, sender string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(s.approved_folder, s.folder) AS folder, COUNT(*)
		FROM suggestions s
		JOIN messages m ON m.external_id = s.message_id
		WHERE m.sender = ? AND `+inheritableWhere+`
		GROUP BY COALESCE(s.approved_folder, s.folder)
	`, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to query sender distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var folder string
		var count int
		if err := rows.Scan(&folder, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		dist[folder] = count
	}
	return dist, rows.Err()
}

func (s *SQLStore) GetSenderProfile(ctx context.Context, sender string) (*core.SenderProfile, error) {
	var p core.SenderProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT sender, display_name, domain, category, top_folder,
			email_count, last_seen, rule_candidate
		FROM sender_profiles WHERE sender = ?
	`, sender).Scan(&p.Sender, &p.DisplayName, &p.Domain, &p.Category, &p.TopFolder,
		&p.EmailCount, &p.LastSeen, &p.RuleCandidate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query sender profile: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) UpsertSenderProfile(ctx context.Context, profile *core.SenderProfile) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO sender_profiles (sender, display_name, domain, category,
			top_folder, email_count, last_seen, rule_candidate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, profile.Sender, profile.DisplayName, profile.Domain, profile.Category,
		profile.TopFolder, profile.EmailCount, profile.LastSeen, profile.RuleCandidate)
	if err != nil {
		return fmt.Errorf("failed to upsert sender profile: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPipelineState(ctx context.Context) (*core.PipelineState, error) {
	var state core.PipelineState
	var mode string
	var lastSuccess sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT consecutive_failures, mode, last_success, feed_cursor, updated_at
		FROM pipeline_state WHERE id = 1
	`).Scan(&state.ConsecutiveFailures, &mode, &lastSuccess, &state.Cursor, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// First start.
			return &core.PipelineState{Mode: core.ModeNormal}, nil
		}
		return nil, fmt.Errorf("failed to query pipeline state: %w", err)
	}
	state.Mode = core.PipelineMode(mode)
	if lastSuccess.Valid {
		state.LastSuccess = lastSuccess.Time
	}
	return &state, nil
}

func (s *SQLStore) SavePipelineState(ctx context.Context, state *core.PipelineState) error {
	var lastSuccess any
	if !state.LastSuccess.IsZero() {
		lastSuccess = state.LastSuccess
	}
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO pipeline_state (id, consecutive_failures, mode, last_success,
			feed_cursor, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
	`, state.ConsecutiveFailures, string(state.Mode), lastSuccess, state.Cursor, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pipeline state: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordAttempt(ctx context.Context, attempt *core.ClassificationAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_attempts (message_id, strategy, outcome,
			error_kind, model, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, attempt.MessageID, string(attempt.Strategy), attempt.Outcome,
		attempt.ErrorKind, attempt.Model, attempt.Duration.Milliseconds(), attempt.At)
	if err != nil {
		return fmt.Errorf("failed to record classification attempt: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullPriority(p *core.Priority) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func nullAction(a *core.ActionType) any {
	if a == nil {
		return nil
	}
	return string(*a)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
