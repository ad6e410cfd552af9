// Package auth keeps track of who is signed in to the marketplace and with
// which role, and provisions new client and provider accounts.
//
// Session manager:
//   - SessionManager owns the process wide State (session, role and loading
//     phase). It subscribes once to the IdentityBackend, processes session
//     events one at a time, and derives the role from the ProfileStore: an
//     identity with a provider profile is a provider, everyone else is a
//     client. A failing lookup resolves to client.
//   - Every change is published as a single snapshot to listeners registered
//     with Subscribe. Derivations superseded by a newer change are cancelled
//     and their results dropped.
//
// Provisioning:
//   - Provisioner.Register validates a RegistrationRequest, creates the
//     identity and, for provider accounts, inserts the profile. A failed
//     profile insert is not rolled back; it is reported as
//     ErrProfileCreationPartialFailure next to a result with
//     OutcomeProfilePending.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter for sign in, sign out,
//     registration and role events. Sinks run best-effort (errors are logged).
//
// Route gating lives in the gate package, the local identity service in
// identity and the bun profile store in repository.
package auth
