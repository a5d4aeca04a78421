package db

const schemaSQL = `
-- ===========================================================================
-- KNOWN PLAYERS (discovery fallback)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS known_players (
  uid TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL,
  first_seen_at TEXT NOT NULL,
  last_seen_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_known_players_last_seen ON known_players(last_seen_at);

-- ===========================================================================
-- CONNECTION HISTORY
-- ===========================================================================

CREATE TABLE IF NOT EXISTS connections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  players INTEGER NOT NULL,
  subscriptions INTEGER NOT NULL,
  connected_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_connected_at ON connections(connected_at);

-- ===========================================================================
-- AUDIT EVENTS (command journal)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL DEFAULT 'INFO',
  device_id TEXT,
  correlation_token TEXT,
  message TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type);
CREATE INDEX IF NOT EXISTS idx_audit_events_device ON audit_events(device_id);
`
