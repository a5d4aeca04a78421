package audit

// EventType represents the type of audit event.
type EventType string

const (
	EventCommandExecuted EventType = "COMMAND_EXECUTED"
	EventCommandFailed   EventType = "COMMAND_FAILED"
	EventReconnectMarked EventType = "RECONNECT_MARKED"
	EventSystemStartup   EventType = "SYSTEM_STARTUP"
	EventSystemShutdown  EventType = "SYSTEM_SHUTDOWN"
)

// EventTypes lists every event type accepted by the query filter.
var EventTypes = []EventType{
	EventCommandExecuted,
	EventCommandFailed,
	EventReconnectMarked,
	EventSystemStartup,
	EventSystemShutdown,
}

// CommandRecord describes one executed command.
type CommandRecord struct {
	Target           string
	Action           string
	Executor         string
	CorrelationToken string
	// ErrorCode and Message are empty on success.
	ErrorCode string
	Message   string
}
