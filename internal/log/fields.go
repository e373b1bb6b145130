package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldURL         = "url"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldKey         = "key"
	FieldTier        = "tier"
	FieldCount       = "count"
	FieldWorkspaceID = "workspace_id"
	FieldEndpoint    = "endpoint"
	FieldOrigin      = "origin"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentAPI        = "api"
	ComponentStorage    = "storage"
	ComponentCache      = "cache"
	ComponentAMQP       = "amqp"
	ComponentBackend    = "backend"
	ComponentCollection = "collection"
	ComponentWorkspace  = "workspace"
	ComponentNotify     = "notify"
	ComponentProxy      = "proxy"
	ComponentCLI        = "cli"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpRead       = "read"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpList       = "list"
	OpFlush      = "flush"
	OpRevalidate = "revalidate"
	OpLoad       = "load"
	OpActivate   = "activate"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithStorageKey adds key and tier fields
func (f LogFields) WithStorageKey(key, tier string) LogFields {
	f[FieldKey] = key
	f[FieldTier] = tier
	return f
}

// WithHTTP adds request and response fields
func (f LogFields) WithHTTP(method, url string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldURL] = url
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode > 0 && statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
