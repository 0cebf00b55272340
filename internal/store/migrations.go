package store

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id  TEXT NOT NULL DEFAULT '',
    source       TEXT NOT NULL,
    platform     TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL DEFAULT '',
    created_at   DATETIME,
    collected_at DATETIME NOT NULL,
    stored_at    DATETIME NOT NULL,
    metrics      TEXT NOT NULL DEFAULT '{}',
    imputed      TEXT NOT NULL DEFAULT '[]'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_key ON records(source, external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
CREATE INDEX IF NOT EXISTS idx_records_platform ON records(platform);
CREATE INDEX IF NOT EXISTS idx_records_collected_at ON records(collected_at);
`
