package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginRejected          ActivityEventType = "auth.login.rejected"
	ActivityEventLoginLocked            ActivityEventType = "auth.login.locked"
	ActivityEventLoginPasswordExpired   ActivityEventType = "auth.login.password_expired"
	ActivityEventSecondFactorSent       ActivityEventType = "auth.login.second_factor_sent"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventSecondFactorFailed     ActivityEventType = "auth.second_factor.failed"
	ActivityEventSecondFactorExpired    ActivityEventType = "auth.second_factor.expired"
	ActivityEventSecondFactorResent     ActivityEventType = "auth.second_factor.resent"
	ActivityEventLogout                 ActivityEventType = "auth.logout"
	ActivityEventSessionInvalidated     ActivityEventType = "auth.session.invalidated"
	ActivityEventPasswordChanged        ActivityEventType = "auth.password.changed"
	ActivityEventPasswordChangeFailed   ActivityEventType = "auth.password.change_failed"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "auth.password.reset"
	ActivityEventTwoFactorEnabled       ActivityEventType = "auth.two_factor.enabled"
	ActivityEventTwoFactorDisabled      ActivityEventType = "auth.two_factor.disabled"
	ActivityEventAccountRegistered      ActivityEventType = "account.registered"
)

// Metadata keys filled from the request context.
const (
	MetaIPAddress = "ip_address"
	MetaUserAgent = "user_agent"
)

// ActorRef identifies who or what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action. Metadata
// never carries passwords, codes or full tokens.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  LoginState
	ToState    LoginState
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

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder fills defaults and swallows sink failures; sinks are
// best effort.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		if r.now != nil {
			event.OccurredAt = r.now()
		} else {
			event.OccurredAt = time.Now()
		}
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		if _, set := event.Metadata[MetaIPAddress]; !set && info.IP != "" {
			event.Metadata[MetaIPAddress] = info.IP
		}
		if _, set := event.Metadata[MetaUserAgent]; !set && info.UserAgent != "" {
			event.Metadata[MetaUserAgent] = info.UserAgent
		}
	}
	if event.Actor.Type == "" {
		if event.AccountID != "" {
			event.Actor = ActorRef{ID: event.AccountID, Type: "account"}
		} else {
			event.Actor = ActorRef{Type: "unknown"}
		}
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil {
		logger := r.logger
		if logger == nil {
			logger = defLogger{}
		}
		logger.Warn("activity sink record error: %v", err)
	}
}
