package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// KnownPlayer is a zone player seen by a previous discovery.
type KnownPlayer struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	IPAddress   string    `json:"ip_address"`
	Visible     bool      `json:"visible"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// KnownPlayers stores players across restarts so discovery can probe them
// directly when SSDP finds nothing.
type KnownPlayers struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewKnownPlayers creates a repository on the database pair.
func NewKnownPlayers(pair *DBPair) *KnownPlayers {
	return &KnownPlayers{reader: pair.Reader(), writer: pair.Writer(), now: time.Now}
}

// RecordPlayer inserts the player or refreshes its name, address and last
// seen time.
func (k *KnownPlayers) RecordPlayer(ctx context.Context, uid, name, address string, visible bool) error {
	now := nowISO(k.now())
	_, err := k.writer.ExecContext(ctx, `
    INSERT INTO known_players (uid, name, ip_address, visible, first_seen_at, last_seen_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(uid) DO UPDATE SET
      name = excluded.name,
      ip_address = excluded.ip_address,
      visible = excluded.visible,
      last_seen_at = excluded.last_seen_at
  `, uid, name, address, boolToInt(visible), now, now)
	if err != nil {
		return fmt.Errorf("record known player %s: %w", uid, err)
	}
	return nil
}

// List returns every known player ordered by name.
func (k *KnownPlayers) List(ctx context.Context) ([]KnownPlayer, error) {
	rows, err := k.reader.QueryContext(ctx, `
    SELECT uid, name, ip_address, visible, first_seen_at, last_seen_at
    FROM known_players
    ORDER BY name, uid
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []KnownPlayer
	for rows.Next() {
		var p KnownPlayer
		var visible int
		var firstSeen, lastSeen string
		if err := rows.Scan(&p.UID, &p.Name, &p.IPAddress, &visible, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		p.Visible = visible == 1
		p.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
		p.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen)
		players = append(players, p)
	}
	return players, rows.Err()
}

// Addresses returns the addresses of visible known players. Invisible
// players cannot answer the zone group queries discovery needs.
func (k *KnownPlayers) Addresses(ctx context.Context) ([]string, error) {
	rows, err := k.reader.QueryContext(ctx, `
    SELECT DISTINCT ip_address FROM known_players
    WHERE visible = 1 AND ip_address != ''
    ORDER BY ip_address
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

// Prune deletes players not seen since cutoff and returns how many were
// removed.
func (k *KnownPlayers) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := k.writer.ExecContext(ctx, "DELETE FROM known_players WHERE last_seen_at < ?", nowISO(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune known players: %w", err)
	}
	return result.RowsAffected()
}

// RecordConnection appends a row to the connection history.
func (k *KnownPlayers) RecordConnection(ctx context.Context, players, subscriptions int) error {
	_, err := k.writer.ExecContext(ctx,
		"INSERT INTO connections (players, subscriptions, connected_at) VALUES (?, ?, ?)",
		players, subscriptions, nowISO(k.now()))
	if err != nil {
		return fmt.Errorf("record connection: %w", err)
	}
	return nil
}

// LastConnection returns the time of the most recent successful connect.
func (k *KnownPlayers) LastConnection(ctx context.Context) (time.Time, bool, error) {
	var connectedAt string
	err := k.reader.QueryRowContext(ctx, "SELECT connected_at FROM connections ORDER BY id DESC LIMIT 1").Scan(&connectedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339, connectedAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
