// Package auth provides pluggable authentication for the session API.
//
// Authentication uses a chain-of-responsibility pattern with
// three-outcome voting: each authenticator returns Yes (identity
// found), No (credentials invalid), or Abstain (can't handle). A
// configurable default decides when every authenticator abstains.
//
// Auth is HTTP middleware, decoupled from the agent loop. On success
// the middleware injects the identity into the request context and
// scopes the session store to the authenticated subject, so callers
// only ever see their own sessions.
package auth
