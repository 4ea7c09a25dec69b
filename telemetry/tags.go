// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// triggerKey carries what started a sweep into the work it does.
	triggerKey contextKey = "trigger"
)

// Trigger records what started a retention sweep.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerMakeSpace Trigger = "make_space"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Route   string
	Package string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, &RequestTags{}))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetRoute names the admin route that served the request.
func SetRoute(r *http.Request, route string) {
	if tags := GetTags(r); tags != nil {
		tags.Route = route
	}
}

// SetPackage records the package a request operated on.
func SetPackage(r *http.Request, pkg string) {
	if tags := GetTags(r); tags != nil {
		tags.Package = pkg
	}
}

// WithTrigger returns a context recording what started a sweep.
func WithTrigger(ctx context.Context, trigger Trigger) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

// TriggerFromContext returns the sweep trigger, defaulting to TriggerManual.
func TriggerFromContext(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey).(Trigger); ok && t != "" {
		return t
	}
	return TriggerManual
}
