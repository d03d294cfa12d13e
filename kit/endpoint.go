// Package kit holds the transport-neutral endpoint shape shared by the HTTP
// and MCP surfaces, and the middleware applied to both.
package kit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Endpoint is one operation, independent of how it is reached.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named name at debug, and failures
// at warn.
func Logging(log *slog.Logger, name string) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				log.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				log.Debug("kit: endpoint served", attrs...)
			}
			return resp, err
		}
	}
}

// Tracing opens one span per call on the global tracer provider.
func Tracing(name string) Middleware {
	tracer := otel.Tracer("github.com/hazyhaar/fidex/kit")
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			ctx, span := tracer.Start(ctx, name)
			defer span.End()
			span.SetAttributes(attribute.String("fidex.transport", GetTransport(ctx)))
			resp, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return resp, err
		}
	}
}
