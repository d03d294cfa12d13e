package store

// schema is the DDL for the run store.
const schema = `
-- One row per measured page load.
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    mode        TEXT NOT NULL DEFAULT 'live',
    dir         TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'running',
    error       TEXT NOT NULL DEFAULT '',
    candidates  INTEGER NOT NULL DEFAULT 0,
    triggered   INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Stage deltas in flush order (onload, interaction_0, ...).
CREATE TABLE IF NOT EXISTS stage_deltas (
    run_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    stage      TEXT NOT NULL,
    exceptions INTEGER NOT NULL DEFAULT 0,
    failed     INTEGER NOT NULL DEFAULT 0,
    payload    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

-- Final JSON artifacts, keyed by file name.
CREATE TABLE IF NOT EXISTS artifacts (
    run_id     TEXT NOT NULL,
    name       TEXT NOT NULL,
    body       BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, name),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
