package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Fields flow through context enrichment so run/task
// identity is included in every log statement without threading it
// through every function signature.
type LogFields struct {
	RunID      string // run id, set once on Engine entry
	TaskID     string // task (node) id currently executing
	NodeID     string // repair-generated node id, when applicable
	ProviderID string // provider backing the current binding
	ModelID    string // model id of the current binding
	Component  string // component name, OTel semantic convention style, e.g. "ai3.scheduler"
}

// WithLogFields enriches context with structured log fields. Multiple
// calls merge fields, with newer non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context. Returns empty
// LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.RunID != "" {
		result.RunID = next.RunID
	}
	if next.TaskID != "" {
		result.TaskID = next.TaskID
	}
	if next.NodeID != "" {
		result.NodeID = next.NodeID
	}
	if next.ProviderID != "" {
		result.ProviderID = next.ProviderID
	}
	if next.ModelID != "" {
		result.ModelID = next.ModelID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long prompt/artifact text.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
