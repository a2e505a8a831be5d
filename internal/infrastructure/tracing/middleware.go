package tracing

import (
	"github.com/gin-gonic/gin"
)

// maxTraceIDLength caps ids taken from request headers
const maxTraceIDLength = 64

// HTTPMiddleware traces every request. An incoming X-Trace-ID is kept,
// otherwise one is generated; either way it is echoed in the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		incoming := c.GetHeader(Header)
		if len(incoming) > maxTraceIDLength {
			incoming = ""
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.Start(c.Request.Context(), c.Request.Method+" "+name, incoming)
		c.Request = c.Request.WithContext(ctx)
		c.Header(Header, span.TraceID)

		c.Next()

		span.Status = c.Writer.Status()
		span.SetTag("session_id", c.Param("sid"))
		span.SetTag("block_id", c.Param("id"))
		span.SetTag("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			span.Err = c.Errors.Last()
		}
		tracer.Finish(span)
	}
}
