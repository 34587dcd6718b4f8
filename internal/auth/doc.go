// Package auth issues and verifies credentials for the proxy service.
//
// Two kinds of HS256 JWT are signed with the same secret: short-lived
// session tokens returned by login, and long-lived API keys that clients
// send in the X-API-Key header. API keys are also persisted so they can be
// listed, revoked and metered. An Authorizer resolves an API key to a user
// and applies the subscription/trial policy before any proxying happens.
package auth
