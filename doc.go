// Package authkit is an embeddable authentication engine for account
// directories. It owns every short-lived secret of the login flows:
// one-time codes, two-factor handshake sessions, password-reset tokens,
// and refresh-token rotation state, all kept in Redis with TTLs. Durable
// accounts live behind the caller's Directory; outbound mail goes through
// the caller's Notifier.
//
// Build an engine with the Builder:
//
//	engine, err := authkit.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithDirectory(dir).
//		WithNotifier(mailer).
//		Build()
//
// The flows are two-step: LoginWithOTP verifies the password and mails a
// code, VerifyOTP redeems it for a token pair. RequestOTP/VerifyOTPDirect
// is the password-less variant. ForgotPassword/ResetPassword handle
// recovery, Refresh rotates token pairs, and a background sweeper purges
// leftover secret state.
package authkit
