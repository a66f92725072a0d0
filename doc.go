// Package auth holds the shared model for reconciling provider asserted
// identities with internal accounts: the Identity and Account records,
// the store contracts implemented by the repository package, the error
// taxonomy, configuration and activity sinks.
//
// Records:
//   - Identity pairs a provider id with a provider type. The pair is
//     unique and an identity is never deleted, only re-owned.
//   - Account owns an ordered collection of identity ids. For every id in
//     that collection the identity's OwnerID points back at the account.
//     The two records are saved independently, so the social package
//     restores that invariant after every mutation and the Repairer can
//     fix accounts left stale by a crash between saves.
//
// Activity sinks:
//   - ActivitySink receives link, registration and login events. Sinks run
//     best-effort (errors are logged) so they never block authentication.
package auth
