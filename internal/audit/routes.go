package audit

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/sonos-bridge-go/internal/api"
	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

// validEventLevels defines all valid audit event levels.
var validEventLevels = map[string]EventLevel{
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
}

// queryEvents retrieves audit events with optional filters.
// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, _, hasMore, err := service.QueryEvents(r.Context(), filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit events")
		}

		formatted := make([]map[string]any, 0, len(events))
		for _, event := range events {
			formatted = append(formatted, formatEvent(&event))
		}
		return api.WriteList(w, "/v1/audit/events", formatted, hasMore)
	}
}

// getEvent retrieves a single audit event by ID.
// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(r.Context(), eventID)
		if err != nil {
			var notFoundErr *EventNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewNotFoundResource("audit event", eventID)
			}
			return apperrors.NewInternalError("Failed to get audit event")
		}
		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

// parseQueryFilters extracts and validates query parameters for event filtering.
func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{Limit: DefaultQueryLimit}
	query := r.URL.Query()

	// 'from' and 'to' are inclusive RFC 3339 bounds
	for _, bound := range []struct {
		name   string
		target **string
	}{{"from", &filters.StartDate}, {"to", &filters.EndDate}} {
		value := query.Get(bound.name)
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid '"+bound.name+"' datetime format, expected ISO 8601", map[string]any{bound.name: value})
		}
		formatted := parsed.UTC().Format(timestampLayout)
		*bound.target = &formatted
	}

	if eventType := query.Get("type"); eventType != "" {
		if !slices.Contains(EventTypes, EventType(eventType)) {
			return filters, apperrors.NewValidationError("invalid event type", map[string]any{"type": eventType})
		}
		filters.Type = &eventType
	}

	if level := query.Get("level"); level != "" {
		parsedLevel, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &parsedLevel
	}

	if deviceID := query.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if token := query.Get("correlation_token"); token != "" {
		filters.CorrelationToken = &token
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filters, apperrors.NewValidationError("limit must be a positive integer", map[string]any{"limit": limitStr})
		}
		filters.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("offset must be a non-negative integer", map[string]any{"offset": offsetStr})
		}
		filters.Offset = offset
	}

	return filters, nil
}

func formatEvent(event *AuditEvent) map[string]any {
	result := map[string]any{
		"object":    "audit_event",
		"id":        event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":      event.Type,
		"level":     string(event.Level),
		"message":   event.Message,
		"payload":   event.Payload,
	}
	if event.DeviceID != nil {
		result["device_id"] = *event.DeviceID
	}
	if event.CorrelationToken != nil {
		result["correlation_token"] = *event.CorrelationToken
	}
	return result
}
