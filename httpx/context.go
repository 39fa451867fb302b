package httpx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyCorrelationID
)

// WithRequestID makes responses prepared from requests carrying ctx use id
// as their X-Request-ID and Info.RequestID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom returns the request ID set by WithRequestID.
func RequestIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, ctxKeyRequestID)
}

// WithCorrelationID sets the X-Correlation-ID sent with requests carrying
// ctx. It takes precedence over Request.CorrelationID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFrom returns the correlation ID set by WithCorrelationID.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	return stringValue(ctx, ctxKeyCorrelationID)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	s, ok := ctx.Value(key).(string)
	return s, ok && s != ""
}

// stampIDs fills X-Request-ID and X-Correlation-ID on h unless the caller
// set them, and returns the request ID in effect. Without an ID in ctx a
// random UUID is used.
func stampIDs(ctx context.Context, h Header, correlationID string) string {
	id := h.Get("x-request-id")
	if id == "" {
		var ok bool
		if id, ok = RequestIDFrom(ctx); !ok {
			id = uuid.NewString()
		}
		h.Set("x-request-id", id)
	}
	if h.Get("x-correlation-id") == "" {
		if cid, ok := CorrelationIDFrom(ctx); ok {
			h.Set("x-correlation-id", cid)
		} else if correlationID != "" {
			h.Set("x-correlation-id", correlationID)
		}
	}
	return id
}
