package audit

// EventType is the closed set of gateway decision points that produce audit
// records. Keeping this a fixed enumeration lets the anomaly detector match
// exhaustively instead of on loose strings.
type EventType string

const (
	EventLogin          EventType = "LOGIN"
	EventLogout         EventType = "LOGOUT"
	EventRegister       EventType = "REGISTER"
	EventDatabaseAccess EventType = "DATABASE_ACCESS"
	EventFileAccess     EventType = "FILE_ACCESS"
	EventAPIAccess      EventType = "API_ACCESS"
	EventRateLimit      EventType = "RATE_LIMIT"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one gateway decision. UserID 0 means the actor could not be
// resolved. Details are opaque to the audit trail and stored as JSON.
type Event struct {
	UserID    int64
	Type      EventType
	Action    string
	Details   map[string]any
	Severity  Severity
	IP        string
	UserAgent string
}
