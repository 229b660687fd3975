package dkim

import (
	"context"

	"blitiri.com.ar/go/log"
	"github.com/oklog/ulid/v2"
)

// TraceFunc receives one formatted progress line per verification step.
// It is deliberately shaped like log.Infof so a caller can pass that
// directly.
type TraceFunc func(format string, args ...interface{})

type traceKey struct{}

// WithTrace attaches a TraceFunc to ctx; Verify and VerifyWithOptions
// call it, when present, as they work through each signature.
func WithTrace(ctx context.Context, fn TraceFunc) context.Context {
	return context.WithValue(ctx, traceKey{}, fn)
}

func tracef(ctx context.Context, format string, args ...interface{}) {
	fn, ok := ctx.Value(traceKey{}).(TraceFunc)
	if !ok || fn == nil {
		return
	}
	fn(format, args...)
}

// DefaultTrace returns a TraceFunc that writes through blitiri.com.ar/go/log
// at debug level, prefixed with a short correlation ID so concurrent
// verifications of different messages don't interleave unreadably in a
// shared log stream.
func DefaultTrace() TraceFunc {
	// The last 10 characters are entropy; the first 10 are only the
	// millisecond timestamp, which concurrent calls can share.
	id := ulid.Make().String()[16:]
	return func(format string, args ...interface{}) {
		log.Debugf("dkim[%s] "+format, append([]interface{}{id}, args...)...)
	}
}
