// Package auth issues, validates, and rotates signed session tokens for a small
// set of named purposes (user access, refresh, email confirmation, password
// reset) while persisting a single monotonically increasing counter per
// account.
//
// Access policies:
//   - An AccessPolicy names a purpose and carries its own signing secret,
//     algorithm and lifetime. Policies are provisioned outside the request path
//     and loaded once into a PolicyRegistry, which is read-only afterwards.
//
// Token codec:
//   - TokenCodec signs {iss, uky, act, rti} with the policy secret and verifies
//     signature, algorithm, issuer, expiry and policy id on decode. Every decode
//     failure surfaces as the same unauthorized error; the reason is only logged.
//
// Rotation:
//   - SessionManager drives register, login, refresh, confirm, resend, forgot,
//     reset, change password, logout and profile. A refresh token is accepted
//     only while its embedded counter equals the persisted one, and the store
//     advances the counter with a conditional write so two refreshes presenting
//     the same token cannot both succeed.
//
// Activity sinks:
//   - ActivitySink receives best-effort audit events for each flow. Sink errors
//     are logged and never fail the flow.
package auth
