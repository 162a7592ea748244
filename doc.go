// Package auth implements the authentication and session security engine of
// the member portal.
//
// Login flow:
//   - Auther.Login verifies credentials with bcrypt, applies the progressive
//     lockout, enforces the password maximum age, and either issues a single
//     active session or a one time code when two factor is enabled. Each step
//     is a LoginState transition reported through ActivitySink.
//   - Account updates go through a version checked save so concurrent logins,
//     lockouts, and resets never overwrite each other.
//
// Secrets:
//   - Session tokens, one time codes, and reset tokens are generated from
//     crypto/rand and only their SHA-256 digests are persisted. Audit metadata
//     carries fingerprints, never the values.
//
// HTTP:
//   - RouteAuthenticator keeps the session in a signed HS256 cookie whose
//     sliding idle window is capped by an absolute lifetime. SessionGuard
//     checks the cookie against the stored session so a newer login signs
//     the older browser out.
//   - RegisterAuthRoutes mounts registration, login, second factor, password
//     change, and password reset endpoints on a go-router router.
package auth
