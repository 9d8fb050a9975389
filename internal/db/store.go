package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veil-scan/warden/internal/model"
	"github.com/veil-scan/warden/internal/reputation"
)

// SaveScanResult persists one full per-file scan output, per spec.md
// §4.7's "one row per scan call".
func (d *DB) SaveScanResult(ctx context.Context, r *model.ScanResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("db: marshal scan result: %w", err)
	}

	d.wmu.Lock()
	defer d.wmu.Unlock()

	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO scan_results (id, path, name, ext, mime, size, sha256, threat_score, severity, category, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Path, r.Name, r.Ext, r.MIME, r.Size, r.SHA256,
		r.ThreatScore, r.Severity.String(), string(r.Category), string(body), r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("db: insert scan result: %w", err)
	}
	return nil
}

// GetReputation implements reputation.Cache.
func (d *DB) GetReputation(ctx context.Context, sha256 string) (*reputation.CacheEntry, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT raw_json, cached_at FROM reputation_cache WHERE sha256 = ?`, sha256)

	var raw string
	var cachedAt time.Time
	if err := row.Scan(&raw, &cachedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: get reputation: %w", err)
	}
	return &reputation.CacheEntry{SHA256: sha256, Raw: json.RawMessage(raw), CachedAt: cachedAt}, nil
}

// PutReputation implements reputation.Cache's write-through persistence.
func (d *DB) PutReputation(ctx context.Context, sha256 string, raw json.RawMessage) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO reputation_cache (sha256, raw_json, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(sha256) DO UPDATE SET raw_json = excluded.raw_json, cached_at = excluded.cached_at`,
		sha256, string(raw), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("db: put reputation: %w", err)
	}
	return nil
}

// LookupSignature implements signature.OfflineDB: a hash-addressed
// lookup tried first by SHA-256, then by MD5, matching on whichever
// hash is supplied (spec.md §9's cross-match decision).
func (d *DB) LookupSignature(ctx context.Context, sha256, md5 string) (*model.SignatureRecord, error) {
	if sha256 != "" {
		if rec, err := d.signatureByColumn(ctx, "sha256", sha256); err != nil || rec != nil {
			return rec, err
		}
	}
	if md5 != "" {
		if rec, err := d.signatureByColumn(ctx, "md5", md5); err != nil || rec != nil {
			return rec, err
		}
	}
	return nil, nil
}

func (d *DB) signatureByColumn(ctx context.Context, column, value string) (*model.SignatureRecord, error) {
	row := d.sql.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT sha256, md5, family, type, severity, source, first_seen, last_seen, meta_json
		FROM signatures WHERE %s = ?`, column), value)

	var rec model.SignatureRecord
	var severity int
	var md5, meta *string
	if err := row.Scan(&rec.SHA256, &md5, &rec.Family, &rec.Type, &severity, &rec.Source,
		&rec.FirstSeen, &rec.LastSeen, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: lookup signature: %w", err)
	}
	rec.Severity = model.Severity(severity)
	if md5 != nil {
		rec.MD5 = *md5
	}
	if meta != nil {
		rec.Meta = json.RawMessage(*meta)
	}
	return &rec, nil
}

// UpsertSignature inserts or merges a signature record per spec.md §4.7:
// on conflict, keep the earliest first_seen, bump last_seen to the max,
// upgrade severity only when strictly higher, overwrite source/metadata.
// The signatures table enforces uniqueness on both sha256 and md5 (§6),
// so a record is matched first by sha256 and, failing that, by md5 if one
// is supplied (spec.md §9's "match whichever hash is supplied" decision);
// a match found only via md5 still keys the write on that existing row's
// own sha256, collapsing the two into one row rather than tripping the
// unique md5 index.
func (d *DB) UpsertSignature(ctx context.Context, rec model.SignatureRecord) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	existing, err := d.signatureByColumn(ctx, "sha256", rec.SHA256)
	if err != nil {
		return err
	}
	if existing == nil && rec.MD5 != "" {
		existing, err = d.signatureByColumn(ctx, "md5", rec.MD5)
		if err != nil {
			return err
		}
	}

	firstSeen := rec.FirstSeen
	lastSeen := rec.LastSeen
	severity := rec.Severity
	keySHA256 := rec.SHA256
	if existing != nil {
		if existing.FirstSeen.Before(firstSeen) {
			firstSeen = existing.FirstSeen
		}
		if existing.LastSeen.After(lastSeen) {
			lastSeen = existing.LastSeen
		}
		severity = model.Max(severity, existing.Severity)
		keySHA256 = existing.SHA256
	}

	meta := ""
	if len(rec.Meta) > 0 {
		meta = string(rec.Meta)
	}

	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO signatures (sha256, md5, family, type, severity, source, first_seen, last_seen, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha256) DO UPDATE SET
			md5 = excluded.md5,
			family = excluded.family,
			type = excluded.type,
			severity = excluded.severity,
			source = excluded.source,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			meta_json = excluded.meta_json`,
		keySHA256, nullIfEmpty(rec.MD5), rec.Family, rec.Type, int(severity), rec.Source, firstSeen, lastSeen, meta,
	)
	if err != nil {
		return fmt.Errorf("db: upsert signature: %w", err)
	}
	return nil
}

// nullIfEmpty maps an empty string to SQL NULL so the unique md5 index
// on signatures doesn't treat every hash-less row as a duplicate of the
// others (SQLite's UNIQUE index, unlike a bare "", allows any number of
// NULLs).
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertDevice records or refreshes an agent-descriptor device row.
func (d *DB) UpsertDevice(ctx context.Context, dev model.Device) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	meta := ""
	if len(dev.Meta) > 0 {
		meta = string(dev.Meta)
	}

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO devices (id, hostname, os, arch, version, last_seen, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			os = excluded.os,
			arch = excluded.arch,
			version = excluded.version,
			last_seen = excluded.last_seen,
			meta_json = excluded.meta_json`,
		dev.ID, dev.Hostname, dev.OS, dev.Arch, dev.Version, dev.LastSeen, meta,
	)
	if err != nil {
		return fmt.Errorf("db: upsert device: %w", err)
	}
	return nil
}

// RecordEvent appends an event to the event log, returning its assigned ID.
func (d *DB) RecordEvent(ctx context.Context, ev model.Event) (int64, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	payload := ""
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	var deviceID any
	if ev.DeviceID != "" {
		deviceID = ev.DeviceID
	}

	res, err := d.sql.ExecContext(ctx, `
		INSERT INTO events (ts, type, path, severity, action, source, device_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TS, string(ev.Type), ev.Path, ev.Severity, ev.Action, ev.Source, deviceID, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("db: record event: %w", err)
	}
	return res.LastInsertId()
}

// RecentEvents returns up to limit of the most recently recorded events,
// oldest first, for SSE-replay-on-subscribe support.
func (d *DB) RecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, ts, type, path, severity, action, source, COALESCE(device_id, ''), COALESCE(payload, '')
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: recent events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.Path, &ev.Severity, &ev.Action, &ev.Source, &ev.DeviceID, &payload); err != nil {
			return nil, fmt.Errorf("db: scan event: %w", err)
		}
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, ev)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, rows.Err()
}
