// Package audit journals executed commands and bridge lifecycle events in
// SQLite.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Default configuration values
const (
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service provides audit log management functionality.
type Service struct {
	logger              *log.Logger
	repo                *Repository
	healthy             bool
	healthMu            sync.RWMutex
	consecutiveFailures int
}

// NewService creates a new audit service.
func NewService(dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		logger:  logger,
		repo:    NewRepository(dbPair),
		healthy: true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	event, err := s.repo.InsertEvent(ctx, input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}
	s.recordSuccess()
	return event, nil
}

// RecordCommand journals the outcome of a command. Failures to write are
// logged and otherwise ignored.
func (s *Service) RecordCommand(ctx context.Context, record CommandRecord) {
	input := WriteEventInput{
		Type:             EventCommandExecuted,
		DeviceID:         optional(record.Target),
		CorrelationToken: optional(record.CorrelationToken),
		Message:          fmt.Sprintf("%s on %s", record.Action, record.Target),
		Payload: map[string]any{
			"action":   record.Action,
			"executor": record.Executor,
		},
	}
	if record.ErrorCode != "" {
		input.Type = EventCommandFailed
		input.Level = EventLevelWarn
		input.Message = fmt.Sprintf("%s on %s failed: %s", record.Action, record.Target, record.Message)
		input.Payload["error_code"] = record.ErrorCode
	}
	if _, err := s.RecordEvent(ctx, input); err != nil {
		s.logger.Printf("AUDIT: %v", err)
	}
}

// RecordSystem journals a lifecycle event such as startup or shutdown.
func (s *Service) RecordSystem(ctx context.Context, eventType EventType, message string) {
	if _, err := s.RecordEvent(ctx, WriteEventInput{Type: eventType, Message: message}); err != nil {
		s.logger.Printf("AUDIT: %v", err)
	}
}

// QueryEvents retrieves events with filters and pagination. The limit is
// clamped to MaxQueryLimit.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(ctx, filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}
	s.recordSuccess()

	hasMore := filters.Offset+len(events) < total
	return events, total, hasMore, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	s.recordSuccess()
	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}
	return event, nil
}

// Prune deletes events recorded before cutoff.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// Reconnector journals reconnect requests before forwarding them.
type Reconnector struct {
	Next interface {
		MarkReconnect(reason string)
	}
	Service *Service
}

// MarkReconnect records reason and forwards it.
func (r Reconnector) MarkReconnect(reason string) {
	r.Service.RecordSystem(context.Background(), EventReconnectMarked, reason)
	r.Next.MarkReconnect(reason)
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
