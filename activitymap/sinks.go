package activitymap

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-print"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewLoggerSink returns an ActivitySink that writes each normalized event to
// logger. Failures are logged at warn level, everything else at info.
func NewLoggerSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		record := Normalize(event, opts...)
		msg := "activity %s outcome=%s actor=%s %s"
		args := []any{record.Verb, record.Outcome, record.ActorID, print.MaybePrettyJSON(record.Metadata)}
		if record.Outcome == OutcomeFailure {
			logger.Warn(msg, args...)
			return nil
		}
		logger.Info(msg, args...)
		return nil
	})
}

// NewSpanSink returns an ActivitySink that attaches each event to the span
// active in ctx. Events outside a recording span are dropped.
func NewSpanSink(opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return nil
		}

		record := Normalize(event, opts...)
		attrs := []attribute.KeyValue{
			attribute.String("activity.actor_id", record.ActorID),
			attribute.String("activity.object_type", record.ObjectType),
			attribute.String("activity.object_id", record.ObjectID),
			attribute.String("activity.outcome", string(record.Outcome)),
		}
		for key, value := range record.Metadata {
			attrs = append(attrs, attribute.String("activity."+key, fmt.Sprint(value)))
		}

		span.AddEvent(record.Verb, trace.WithAttributes(attrs...), trace.WithTimestamp(record.OccurredAt))
		return nil
	})
}

// Fanout records an event on every sink, returning the first error.
func Fanout(sinks ...auth.ActivitySink) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
