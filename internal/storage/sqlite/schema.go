package sqlite

// schema defines the database structure. Timestamps are stored as RFC3339
// text via the driver's time handling; depends_on and issue id lists are
// stored as JSON arrays.
const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'registered',
	priority          INTEGER NOT NULL DEFAULT 2,
	bound_solution_id TEXT,
	solution_count    INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	planned_at        TIMESTAMP,
	queued_at         TIMESTAMP,
	completed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS solutions (
	id          TEXT PRIMARY KEY,
	issue_id    TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	description TEXT NOT NULL DEFAULT '',
	tasks       TEXT NOT NULL DEFAULT '[]',
	is_bound    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	bound_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_solutions_issue ON solutions(issue_id);

CREATE TABLE IF NOT EXISTS queues (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'active',
	issue_ids  TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_items (
	id                TEXT PRIMARY KEY,
	queue_id          TEXT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
	issue_id          TEXT NOT NULL,
	solution_id       TEXT NOT NULL,
	task_id           TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	execution_order   INTEGER NOT NULL,
	execution_group   TEXT NOT NULL DEFAULT '',
	depends_on        TEXT NOT NULL DEFAULT '[]',
	assigned_executor TEXT NOT NULL DEFAULT '',
	semantic_priority INTEGER NOT NULL DEFAULT 0,
	resume_key        TEXT NOT NULL DEFAULT '',
	queued_at         TIMESTAMP NOT NULL,
	started_at        TIMESTAMP,
	completed_at      TIMESTAMP,
	result            TEXT NOT NULL DEFAULT '',
	failure_reason    TEXT NOT NULL DEFAULT '',
	UNIQUE(queue_id, issue_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_queue_items_queue ON queue_items(queue_id);
CREATE INDEX IF NOT EXISTS idx_queue_items_issue ON queue_items(issue_id);

-- Single-row table holding the active queue pointer. active_queue_id may be
-- NULL (no active queue, e.g. after archiving).
CREATE TABLE IF NOT EXISTS queue_index (
	k               INTEGER PRIMARY KEY CHECK (k = 1),
	active_queue_id TEXT
);

INSERT OR IGNORE INTO queue_index (k, active_queue_id) VALUES (1, NULL);

-- Monotonic counters for generated IDs (queue items, solutions).
CREATE TABLE IF NOT EXISTS counters (
	name    TEXT PRIMARY KEY,
	last_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id      TEXT NOT NULL DEFAULT '',
	queue_item_id TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	detail        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id);
`
