package proxy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/storage"
)

// requestTimings collects per-stage latencies for the completion log line.
type requestTimings struct {
	Auth  time.Duration
	Quota time.Duration
}

// appendTo adds each recorded stage as <stage>_time_us plus a readable
// <stage>_time. Stages that never ran are left out.
func (t *requestTimings) appendTo(fields zerolog.Context) zerolog.Context {
	for _, stage := range []struct {
		name string
		d    time.Duration
	}{{"auth_time", t.Auth}, {"quota_time", t.Quota}} {
		if stage.d > 0 {
			fields = fields.Int64(stage.name+"_us", stage.d.Microseconds()).Str(stage.name, formatDuration(stage.d))
		}
	}
	return fields
}

type timingsKey struct{}

type keyRecordKey struct{}

func withRequestTimings(ctx context.Context) (context.Context, *requestTimings) {
	timings := &requestTimings{}
	return context.WithValue(ctx, timingsKey{}, timings), timings
}

func getRequestTimings(ctx context.Context) *requestTimings {
	if ctx == nil {
		return nil
	}
	if timings, ok := ctx.Value(timingsKey{}).(*requestTimings); ok {
		return timings
	}
	return nil
}

// WithKeyRecord attaches the authenticated key to ctx.
func WithKeyRecord(ctx context.Context, rec storage.KeyRecord) context.Context {
	return context.WithValue(ctx, keyRecordKey{}, rec)
}

// KeyRecordFrom returns the key attached by the key auth middleware.
func KeyRecordFrom(ctx context.Context) (storage.KeyRecord, bool) {
	rec, ok := ctx.Value(keyRecordKey{}).(storage.KeyRecord)
	return rec, ok
}
