package auth

import (
	"context"
	"strings"
)

var (
	sessionCtxKey = &contextKey{"session"}
	requestCtxKey = &contextKey{"request"}
)

type contextKey struct {
	name string
}

// RequestInfo describes the client behind a request. It is attached to every
// audit event recorded while serving that request.
type RequestInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

const maxUserAgentLength = 512

// WithSessionContext sets the SessionObject in the given context
func WithSessionContext(ctx context.Context, session *SessionObject) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session attached by the session guard.
func SessionFromContext(ctx context.Context) (*SessionObject, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*SessionObject)
	return raw, ok && raw != nil
}

// AccountIDFromContext is a convenience for handlers that only need the
// authenticated account.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.AccountID == "" {
		return "", false
	}
	return session.AccountID, true
}

// WithRequestInfo stores client details for audit events.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	info.IP = strings.TrimSpace(info.IP)
	info.UserAgent = strings.TrimSpace(info.UserAgent)
	if len(info.UserAgent) > maxUserAgentLength {
		info.UserAgent = info.UserAgent[:maxUserAgentLength]
	}
	return context.WithValue(ctx, requestCtxKey, info)
}

// RequestInfoFromContext returns the client details stored by WithRequestInfo.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestCtxKey).(RequestInfo)
	return info, ok
}
