// Package stores keeps every short-lived secret the engine owns in Redis:
// one-time codes, two-factor handshake sessions, password-reset tokens,
// and per-account refresh-token sets. Records are binary encoded with a
// version byte, every key carries a TTL, and mutate-on-read paths run
// under WATCH transactions so concurrent validations cannot double-spend
// a secret.
package stores
