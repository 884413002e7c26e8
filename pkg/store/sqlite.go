package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// SQLiteConfig configures the SQLite-backed store.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string `yaml:"path"`
	// HistoryRetention bounds how long message-history rows are kept.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// DefaultSQLiteConfig keeps a week of history.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{Path: path, HistoryRetention: 7 * 24 * time.Hour}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    node_id     TEXT PRIMARY KEY,
    long_name   TEXT,
    short_name  TEXT,
    email       TEXT,
    phone       TEXT,
    tags        TEXT,
    permissions TEXT,
    subscriptions TEXT,
    last_seen   TEXT,
    latitude    REAL,
    longitude   REAL,
    altitude    REAL,
    has_fix     INTEGER
);
CREATE TABLE IF NOT EXISTS message_history (
    message_id   TEXT PRIMARY KEY,
    sender_id    TEXT NOT NULL,
    recipient_id TEXT,
    channel      INTEGER,
    content      TEXT,
    timestamp    TEXT NOT NULL,
    interface_id TEXT,
    hop_count    INTEGER,
    snr          REAL,
    rssi         INTEGER
);
CREATE INDEX IF NOT EXISTS idx_history_timestamp ON message_history (timestamp);
`

// SQLiteStore implements Store on a local SQLite database via the pure-Go
// modernc driver.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	logger    zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path and
// ensures the schema exists.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info().Str("path", cfg.Path).Msg("SQLite store opened.")
	return &SQLiteStore{
		db:        db,
		retention: cfg.HistoryRetention,
		logger:    logger.With().Str("component", "SQLiteStore").Logger(),
	}, nil
}

// GetUser returns the profile for nodeID, or ErrUserNotFound.
func (s *SQLiteStore) GetUser(ctx context.Context, nodeID string) (*mesh.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, long_name, short_name, email, phone,
		       tags, permissions, subscriptions, last_seen,
		       latitude, longitude, altitude, has_fix
		FROM users WHERE node_id = ?`, nodeID)

	var (
		p                          mesh.UserProfile
		tags, perms, subs, seenStr sql.NullString
		hasFix                     sql.NullInt64
		lat, lon, alt              sql.NullFloat64
	)
	err := row.Scan(&p.NodeID, &p.LongName, &p.ShortName, &p.Email, &p.Phone,
		&tags, &perms, &subs, &seenStr, &lat, &lon, &alt, &hasFix)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", nodeID, err)
	}

	if err := unmarshalList(tags, &p.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for user %s: %w", nodeID, err)
	}
	if err := unmarshalList(perms, &p.Permissions); err != nil {
		return nil, fmt.Errorf("corrupt permissions for user %s: %w", nodeID, err)
	}
	if err := unmarshalList(subs, &p.Subscriptions); err != nil {
		return nil, fmt.Errorf("corrupt subscriptions for user %s: %w", nodeID, err)
	}
	if seenStr.Valid && seenStr.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, seenStr.String); err == nil {
			p.LastSeen = ts
		}
	}
	if lat.Valid {
		p.Latitude = lat.Float64
	}
	if lon.Valid {
		p.Longitude = lon.Float64
	}
	if alt.Valid {
		p.Altitude = alt.Float64
	}
	p.HasFix = hasFix.Valid && hasFix.Int64 != 0
	return &p, nil
}

// unmarshalList decodes a JSON-encoded string list column, tolerating NULL
// and empty values.
func unmarshalList(col sql.NullString, dst *[]string) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

// UpsertUser creates or replaces the profile row.
func (s *SQLiteStore) UpsertUser(ctx context.Context, profile *mesh.UserProfile) error {
	if profile == nil || profile.NodeID == "" {
		return fmt.Errorf("profile with node id is required")
	}
	tags, err := json.Marshal(profile.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	perms, err := json.Marshal(profile.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	subs, err := json.Marshal(profile.Subscriptions)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}
	hasFix := 0
	if profile.HasFix {
		hasFix = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (node_id, long_name, short_name, email, phone,
			tags, permissions, subscriptions, last_seen,
			latitude, longitude, altitude, has_fix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			long_name = excluded.long_name,
			short_name = excluded.short_name,
			email = excluded.email,
			phone = excluded.phone,
			tags = excluded.tags,
			permissions = excluded.permissions,
			subscriptions = excluded.subscriptions,
			last_seen = excluded.last_seen,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			has_fix = excluded.has_fix`,
		profile.NodeID, profile.LongName, profile.ShortName, profile.Email, profile.Phone,
		string(tags), string(perms), string(subs), profile.LastSeen.Format(time.RFC3339Nano),
		profile.Latitude, profile.Longitude, profile.Altitude, hasFix)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", profile.NodeID, err)
	}
	return nil
}

// AppendHistory inserts one message-history row. Duplicate message ids are
// ignored so mesh re-deliveries do not error.
func (s *SQLiteStore) AppendHistory(ctx context.Context, msg *mesh.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_history
			(message_id, sender_id, recipient_id, channel, content,
			 timestamp, interface_id, hop_count, snr, rssi)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Recipient, msg.Channel, msg.Content,
		msg.Timestamp.UTC().Format(time.RFC3339Nano), msg.InterfaceID,
		msg.HopCount, msg.SNR, msg.RSSI)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", msg.ID, err)
	}
	return nil
}

// RecentHistory returns up to limit rows, newest first.
func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]mesh.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender_id, recipient_id, channel, content,
		       timestamp, interface_id, hop_count, snr, rssi
		FROM message_history
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []mesh.Message
	for rows.Next() {
		var (
			m  mesh.Message
			ts string
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Channel, &m.Content,
			&ts, &m.InterfaceID, &m.HopCount, &m.SNR, &m.RSSI); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = parsed
		}
		m.Type = mesh.TypeText
		out = append(out, m)
	}
	return out, rows.Err()
}

// CleanupExpired deletes history rows older than the retention window.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM message_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge expired history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info().Int64("rows", n).Msg("Purged expired message history.")
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
