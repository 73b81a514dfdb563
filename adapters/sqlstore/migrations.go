package sqlstore

type migration struct {
	version  string
	sqlite   string
	postgres string
}

// Timestamps are stored as unix microseconds so both dialects compare and
// order them as plain integers.
var migrations = []migration{
	{
		version: "001_audit_records",
		sqlite: `
			CREATE TABLE audit_records (
				id         TEXT PRIMARY KEY,
				action     TEXT NOT NULL,
				actor_id   TEXT NOT NULL,
				result     TEXT NOT NULL,
				details    TEXT NOT NULL DEFAULT '{}',
				created_at INTEGER NOT NULL
			);
			CREATE INDEX idx_audit_records_created_at ON audit_records (created_at);
			CREATE INDEX idx_audit_records_action ON audit_records (action, created_at);
		`,
		postgres: `
			CREATE TABLE audit_records (
				id         TEXT PRIMARY KEY,
				action     TEXT NOT NULL,
				actor_id   TEXT NOT NULL,
				result     TEXT NOT NULL,
				details    JSONB NOT NULL DEFAULT '{}',
				created_at BIGINT NOT NULL
			);
			CREATE INDEX idx_audit_records_created_at ON audit_records (created_at);
			CREATE INDEX idx_audit_records_action ON audit_records (action, created_at);
		`,
	},
	{
		version: "002_audit_records_actor",
		sqlite:  `CREATE INDEX idx_audit_records_actor ON audit_records (actor_id, created_at);`,
		postgres: `CREATE INDEX idx_audit_records_actor ON audit_records (actor_id, created_at);`,
	},
}
