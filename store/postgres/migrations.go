package postgres

// migration is one schema step, applied once and recorded by version.
type migration struct {
	Name    string
	Version string
	SQL     string
}

var migrations = []migration{
	{
		Name:    "create_progression_tracking",
		Version: "20240101000001",
		SQL: `
CREATE TABLE IF NOT EXISTS progression_tracking (
    user_id            TEXT PRIMARY KEY,
    id                 TEXT NOT NULL DEFAULT '',
    weekly_tokens      BIGINT NOT NULL DEFAULT 0,
    unprocessed_tokens BIGINT NOT NULL DEFAULT 0 CHECK (unprocessed_tokens >= 0),
    last_synced_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_progression_tracking_synced ON progression_tracking (last_synced_at);
`,
	},
	{
		Name:    "create_progression_states",
		Version: "20240101000002",
		SQL: `
CREATE TABLE IF NOT EXISTS progression_states (
    user_id    TEXT PRIMARY KEY,
    experience BIGINT NOT NULL DEFAULT 0,
    level      INT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Name:    "create_progression_identities",
		Version: "20240101000003",
		SQL: `
CREATE TABLE IF NOT EXISTS progression_identities (
    external_id     TEXT PRIMARY KEY,
    id              TEXT NOT NULL DEFAULT '',
    email           TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL DEFAULT '',
    rank            TEXT NOT NULL DEFAULT '',
    credential_hash TEXT NOT NULL DEFAULT '',
    sync_status     TEXT NOT NULL DEFAULT 'PENDING',
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_progression_identities_status ON progression_identities (sync_status);
CREATE INDEX IF NOT EXISTS idx_progression_identities_active ON progression_identities (active);
`,
	},
	{
		Name:    "create_progression_rank_updates",
		Version: "20240101000004",
		SQL: `
CREATE TABLE IF NOT EXISTS progression_rank_updates (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    old_rank   TEXT NOT NULL DEFAULT '',
    new_rank   TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_progression_rank_updates_user ON progression_rank_updates (user_id, updated_at);
`,
	},
	{
		Name:    "create_progression_sync_checkpoints",
		Version: "20240101000005",
		SQL: `
CREATE TABLE IF NOT EXISTS progression_sync_checkpoints (
    stream     TEXT PRIMARY KEY,
    token      TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
}
