package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUsername = "username"
	FieldRole     = "role"

	// Connection
	FieldConnID = "conn_id"
	FieldEvent  = "event"
	FieldTarget = "target"

	// Chat
	FieldMessageID = "message_id"
	FieldMediaRef  = "media_ref"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
