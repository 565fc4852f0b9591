// Package identio is the identity and session core of the account platform:
// it issues and validates bearer credentials, runs TOTP enrollment and
// verification, tracks and revokes login sessions, drives password-reset and
// email-verification token lifecycles, and keeps the distributed user cache
// consistent with the relational system of record.
//
// The package is a library, not a service. Transports, audit storage, email
// rendering and the relational store itself are collaborators injected
// through the [Builder]; the core talks to them through the narrow contracts
// in this package and in package user.
//
// Construction:
//
//	core, err := identio.New().
//		WithRedis(rdb).
//		WithUserStore(store).
//		WithAuditSink(sink).
//		Build()
//
// All orchestrator operations take a context and bound their store, cache
// and OAuth calls with the configured timeouts. Expected outcomes (bad
// credentials, conflicts, invalid tokens) are typed *Error values with
// stable machine-readable codes; infrastructure failures are wrapped as
// internal errors and never leak detail to callers.
package identio
