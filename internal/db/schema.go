package db

// schema is the embedded DDL applied once at Open, per spec.md §4.7's
// five tables. Foreign keys and WAL are enabled by dbopen's pragma
// sequence, not by this schema.
const schema = `
CREATE TABLE IF NOT EXISTS scan_results (
	id           TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	name         TEXT NOT NULL,
	ext          TEXT,
	mime         TEXT,
	size         INTEGER,
	sha256       TEXT,
	threat_score REAL,
	severity     TEXT,
	category     TEXT,
	result_json  TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scan_results_sha256 ON scan_results(sha256);

CREATE TABLE IF NOT EXISTS reputation_cache (
	sha256     TEXT PRIMARY KEY,
	raw_json   TEXT NOT NULL,
	cached_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS signatures (
	sha256     TEXT PRIMARY KEY,
	md5        TEXT,
	family     TEXT,
	type       TEXT NOT NULL,
	severity   INTEGER NOT NULL,
	source     TEXT,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL,
	meta_json  TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_signatures_md5 ON signatures(md5);

CREATE TABLE IF NOT EXISTS devices (
	id        TEXT PRIMARY KEY,
	hostname  TEXT,
	os        TEXT,
	arch      TEXT,
	version   TEXT,
	last_seen TIMESTAMP NOT NULL,
	meta_json TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        REAL NOT NULL,
	type      TEXT NOT NULL,
	path      TEXT,
	severity  TEXT,
	action    TEXT,
	source    TEXT,
	device_id TEXT,
	payload   TEXT,
	FOREIGN KEY (device_id) REFERENCES devices(id)
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`
