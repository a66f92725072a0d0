package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventIdentityLinked     ActivityEventType = "link.identity.linked"
	ActivityEventIdentityRelinked   ActivityEventType = "link.identity.relinked"
	ActivityEventAccountRegistered  ActivityEventType = "link.account.registered"
	ActivityEventLogin              ActivityEventType = "link.login"
	ActivityEventOneTimeLogin       ActivityEventType = "link.login.one_time"
	ActivityEventConsistencyAnomaly ActivityEventType = "link.consistency.anomaly"
	ActivityEventAccountRepaired    ActivityEventType = "link.account.repaired"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	AccountID  string
	IdentityID string
	Provider   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NormalizeActivitySink returns s or a sink that drops every event.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity emits event best-effort; sink failures are logged.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := sink.Record(ctx, event); err != nil {
		NormalizeLogger(logger).Error("activity sink %s: %v", event.EventType, err)
	}
}
