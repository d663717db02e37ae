package storage

// Schema creates the crawl result tables.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	seeds       TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	visited     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	retried     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS listings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	url        TEXT NOT NULL,
	title      TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMP NOT NULL,
	UNIQUE(run_id, url)
);

CREATE INDEX IF NOT EXISTS idx_listings_run ON listings(run_id);
`
