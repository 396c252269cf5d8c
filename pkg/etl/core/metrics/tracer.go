package metrics

import (
	"context"
)

// Tracer is an abstract interface for distributed tracing.
type Tracer interface {
	// StartSpan starts a span named name as a child of the span in ctx.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func())

	// RecordError records an error in the current Span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
