// Package accounts implements the identity lifecycle for user accounts:
// registration with activation keys, email change confirmation, password
// reset, and expiry sweeps, backed by Bun repositories.
//
// Lifecycle:
//   - Register creates an account in the pending state with a single-use
//     activation key. Activate consumes the key exactly once; afterwards the
//     key column holds ActivatedSentinel and can never validate again.
//   - RequestEmailChange parks the new address in PendingEmail together with
//     a confirmation key; ConfirmEmail promotes it to the confirmed address
//     and clears both fields in the same statement.
//   - SweepExpired hard-deletes pending accounts whose activation window has
//     elapsed. Staff accounts are exempt.
//
// Activity sinks:
//   - ActivitySink is a best-effort lifecycle event emitter. Sink errors are
//     logged and never roll back a committed transition, so subscribers (a
//     mailer, an audit log, a queue) can be wired in without affecting the
//     engine's atomicity.
//
// All validation failures are typed error values; activation and
// confirmation deliberately collapse wrong, expired, and already-used keys
// into a single negative outcome so callers cannot probe which case it was.
package accounts
