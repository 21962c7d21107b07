package store

// Schema statements per dialect. The two dialects differ only in the
// auto-increment spelling for the audit table; everything else sticks to the
// portable subset both drivers accept.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		external_id     TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		thread_depth    INTEGER NOT NULL DEFAULT 0,
		subject         TEXT NOT NULL DEFAULT '',
		sender          TEXT NOT NULL DEFAULT '',
		received_at     TIMESTAMP NOT NULL,
		snippet         TEXT NOT NULL DEFAULT '',
		folder          TEXT NOT NULL DEFAULT '',
		important       BOOLEAN NOT NULL DEFAULT 0,
		is_read         BOOLEAN NOT NULL DEFAULT 0,
		flagged         BOOLEAN NOT NULL DEFAULT 0,
		replied         BOOLEAN NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT 'unclassified',
		attempts        INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id                   TEXT PRIMARY KEY,
		message_id           TEXT NOT NULL,
		folder               TEXT NOT NULL,
		priority             TEXT NOT NULL,
		action_type          TEXT NOT NULL,
		confidence           REAL NOT NULL,
		rationale            TEXT NOT NULL DEFAULT '',
		strategy             TEXT NOT NULL,
		status               TEXT NOT NULL DEFAULT 'pending',
		approved_folder      TEXT,
		approved_priority    TEXT,
		approved_action_type TEXT,
		created_at           TIMESTAMP NOT NULL,
		resolved_at          TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_message ON suggestions(message_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS sender_profiles (
		sender         TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL DEFAULT '',
		domain         TEXT NOT NULL DEFAULT '',
		category       TEXT NOT NULL DEFAULT '',
		top_folder     TEXT NOT NULL DEFAULT '',
		email_count    INTEGER NOT NULL DEFAULT 0,
		last_seen      TIMESTAMP NOT NULL,
		rule_candidate BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_state (
		id                   INTEGER PRIMARY KEY,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		mode                 TEXT NOT NULL DEFAULT 'normal',
		last_success         TIMESTAMP,
		feed_cursor          TEXT NOT NULL DEFAULT '',
		updated_at           TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classification_attempts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id  TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		error_kind  TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		at          TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_message ON classification_attempts(message_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		external_id     VARCHAR(191) PRIMARY KEY,
		conversation_id VARCHAR(191) NOT NULL DEFAULT '',
		thread_depth    INT NOT NULL DEFAULT 0,
		subject         TEXT NOT NULL,
		sender          VARCHAR(320) NOT NULL DEFAULT '',
		received_at     TIMESTAMP NOT NULL,
		snippet         TEXT NOT NULL,
		folder          VARCHAR(255) NOT NULL DEFAULT '',
		important       BOOLEAN NOT NULL DEFAULT 0,
		is_read         BOOLEAN NOT NULL DEFAULT 0,
		flagged         BOOLEAN NOT NULL DEFAULT 0,
		replied         BOOLEAN NOT NULL DEFAULT 0,
		status          VARCHAR(32) NOT NULL DEFAULT 'unclassified',
		attempts        INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL,
		INDEX idx_messages_conversation (conversation_id),
		INDEX idx_messages_sender (sender),
		INDEX idx_messages_status (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id                   VARCHAR(64) PRIMARY KEY,
		message_id           VARCHAR(191) NOT NULL,
		folder               VARCHAR(255) NOT NULL,
		priority             VARCHAR(8) NOT NULL,
		action_type          VARCHAR(16) NOT NULL,
		confidence           DOUBLE NOT NULL,
		rationale            TEXT NOT NULL,
		strategy             VARCHAR(32) NOT NULL,
		status               VARCHAR(32) NOT NULL DEFAULT 'pending',
		approved_folder      VARCHAR(255),
		approved_priority    VARCHAR(8),
		approved_action_type VARCHAR(16),
		created_at           TIMESTAMP NOT NULL,
		resolved_at          TIMESTAMP NULL,
		INDEX idx_suggestions_message (message_id, status),
		INDEX idx_suggestions_status (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS sender_profiles (
		sender         VARCHAR(320) PRIMARY KEY,
		display_name   VARCHAR(255) NOT NULL DEFAULT '',
		domain         VARCHAR(255) NOT NULL DEFAULT '',
		category       VARCHAR(32) NOT NULL DEFAULT '',
		top_folder     VARCHAR(255) NOT NULL DEFAULT '',
		email_count    INT NOT NULL DEFAULT 0,
		last_seen      TIMESTAMP NOT NULL,
		rule_candidate BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_state (
		id                   INT PRIMARY KEY,
		consecutive_failures INT NOT NULL DEFAULT 0,
		mode                 VARCHAR(32) NOT NULL DEFAULT 'normal',
		last_success         TIMESTAMP NULL,
		feed_cursor          VARCHAR(255) NOT NULL DEFAULT '',
		updated_at           TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classification_attempts (
		id          BIGINT PRIMARY KEY AUTO_INCREMENT,
		message_id  VARCHAR(191) NOT NULL,
		strategy    VARCHAR(32) NOT NULL,
		outcome     VARCHAR(32) NOT NULL,
		error_kind  VARCHAR(32) NOT NULL DEFAULT '',
		model       VARCHAR(128) NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		at          TIMESTAMP NOT NULL,
		INDEX idx_attempts_message (message_id)
	)`,
}
