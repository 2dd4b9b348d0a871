/*
Package tracing provides lightweight request and session tracing.

Each HTTP request gets a span; a websocket session gets a child span that
lasts as long as the worker. Spans are buffered and logged through zap by a
background collector, so tracing never blocks a handler.

# Usage

	tracer := tracing.New("workerdom", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "session")
	defer tracer.Finish(span)
	span.SetTag("session", sid.String())

# Propagation

Traces continue across hops through two headers:
  - X-Trace-ID: Unique identifier for the whole request flow
  - X-Span-ID: Identifier of the calling operation
*/
package tracing
