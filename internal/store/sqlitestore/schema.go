package sqlitestore

// schema is idempotent and runs on every new connection.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	sender_id         TEXT NOT NULL,
	receiver_id       TEXT NOT NULL,
	kind              TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	ciphertext        BLOB,
	iv                BLOB,
	auth_tag          BLOB,
	file_json         TEXT,
	is_seen           INTEGER NOT NULL DEFAULT 0,
	seen_at           INTEGER,
	expires_at        INTEGER,
	saved_by_sender   INTEGER NOT NULL DEFAULT 0,
	saved_by_receiver INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_expires ON messages(expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS read_status (
	viewer_id            TEXT NOT NULL,
	counterpart_id       TEXT NOT NULL,
	last_seen_message_id TEXT NOT NULL,
	last_seen_at         INTEGER NOT NULL,
	PRIMARY KEY (viewer_id, counterpart_id)
);
CREATE INDEX IF NOT EXISTS idx_read_status_counterpart ON read_status(counterpart_id);
CREATE INDEX IF NOT EXISTS idx_read_status_seen ON read_status(last_seen_at);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
`

const messageColumns = `id, sender_id, receiver_id, kind, content, ciphertext, iv, auth_tag, file_json,
	is_seen, seen_at, expires_at, saved_by_sender, saved_by_receiver, created_at`
