/*
Package tracing correlates HTTP requests with log lines.

Every request gets a trace id, taken from the X-Trace-ID header when the
client sends one. The id is stored in the request context, echoed in the
response, and logged with the request's route, status, duration and
session/block ids once the handler returns.

	tracer := tracing.New(logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

Spans are handed to a buffered collector goroutine; when it falls behind
new spans are dropped with a warning.
*/
package tracing
