package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-member-auth"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromState stores the sign in state the event left.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the sign in state the event entered.
	MetadataKeyToState = "to_state"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "account"
	defaultActorID    = "anonymous"
	redactedValue     = "[redacted]"
)

// Outcome classifies an event for security dashboards.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeInfo    Outcome = "info"
)

var outcomes = map[auth.ActivityEventType]Outcome{
	auth.ActivityEventLoginRejected:        OutcomeFailure,
	auth.ActivityEventLoginLocked:          OutcomeFailure,
	auth.ActivityEventLoginPasswordExpired: OutcomeFailure,
	auth.ActivityEventSecondFactorFailed:   OutcomeFailure,
	auth.ActivityEventSecondFactorExpired:  OutcomeFailure,
	auth.ActivityEventSessionInvalidated:   OutcomeFailure,
	auth.ActivityEventPasswordChangeFailed: OutcomeFailure,
	auth.ActivityEventLoginSuccess:         OutcomeSuccess,
	auth.ActivityEventPasswordChanged:      OutcomeSuccess,
	auth.ActivityEventPasswordResetSuccess: OutcomeSuccess,
	auth.ActivityEventTwoFactorEnabled:     OutcomeSuccess,
	auth.ActivityEventTwoFactorDisabled:    OutcomeSuccess,
	auth.ActivityEventAccountRegistered:    OutcomeSuccess,
}

// OutcomeOf reports how an event ended. Unknown and intermediate events
// (code sent, reset requested, logout) are informational.
func OutcomeOf(eventType auth.ActivityEventType) Outcome {
	if o, ok := outcomes[eventType]; ok {
		return o
	}
	return OutcomeInfo
}

// sensitiveKeys never leave the process in clear. Fingerprints (keys ending
// in _fp) are allowed through.
var sensitiveKeys = []string{"password", "code", "token", "secret", "session", "hash"}

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.ActivityEvent) string
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.AccountID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Outcome:    OutcomeOf(event.EventType),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(auth.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has neither an
// actor nor an account.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event auth.ActivityEvent, resolver func(auth.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.AccountID)
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := redact(event.Metadata)

	set := func(key, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type))
	set(MetadataKeyFromState, string(event.FromState))
	set(MetadataKeyToState, string(event.ToState))

	return metadata
}

// redact copies in, masking values whose key names a secret.
func redact(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if isSensitive(key) {
			out[key] = redactedValue
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "_fp") {
		return false
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
