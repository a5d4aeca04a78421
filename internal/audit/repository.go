package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID          string         `json:"event_id"`
	Timestamp        time.Time      `json:"timestamp"`
	Type             string         `json:"type"`
	Level            EventLevel     `json:"level"`
	DeviceID         *string        `json:"device_id,omitempty"`
	CorrelationToken *string        `json:"correlation_token,omitempty"`
	Message          string         `json:"message"`
	Payload          map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type             EventType
	Level            EventLevel // defaults to INFO
	DeviceID         *string
	CorrelationToken *string
	Message          string
	Payload          map[string]any
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type             *string
	Level            *EventLevel
	DeviceID         *string
	CorrelationToken *string
	StartDate        *string // RFC 3339
	EndDate          *string // RFC 3339
	Limit            int
	Offset           int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit events.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

// timestampLayout has a fixed width so stored values sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

const eventColumns = `event_id, timestamp, type, level, device_id, correlation_token, message, payload`

// InsertEvent writes a new audit event and returns it as stored.
func (r *Repository) InsertEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	eventID := uuid.New().String()

	level := input.Level
	if level == "" {
		level = EventLevelInfo
	}
	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, r.now().UTC().Format(timestampLayout), string(input.Type), string(level),
		input.DeviceID, input.CorrelationToken, input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.GetEvent(ctx, eventID)
}

// GetEvent retrieves a single event by ID.
// Returns nil, nil if not found.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	row := r.reader.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`, eventID)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// QueryEvents returns events matching filters, newest first, and the total
// number of matches.
func (r *Repository) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := r.reader.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		`+whereClause+`
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Prune deletes events older than the cutoff time and returns how many
// were removed.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.writer.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`,
		cutoff.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filters EventQueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.DeviceID != nil {
		conditions = append(conditions, "device_id = ?")
		args = append(args, *filters.DeviceID)
	}
	if filters.CorrelationToken != nil {
		conditions = append(conditions, "correlation_token = ?")
		args = append(args, *filters.CorrelationToken)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filters.StartDate)
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filters.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*AuditEvent, error) {
	var event AuditEvent
	var timestamp, level, payloadJSON string
	var deviceID, correlationToken sql.NullString

	if err := row.Scan(
		&event.EventID,
		&timestamp,
		&event.Type,
		&level,
		&deviceID,
		&correlationToken,
		&event.Message,
		&payloadJSON,
	); err != nil {
		return nil, err
	}

	event.Timestamp, _ = time.Parse(timestampLayout, timestamp)
	event.Level = EventLevel(level)
	if deviceID.Valid {
		event.DeviceID = &deviceID.String
	}
	if correlationToken.Valid {
		event.CorrelationToken = &correlationToken.String
	}
	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}
