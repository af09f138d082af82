// Package eventbus implements the typed publish/subscribe hub of swarmmesh.
//
// The bus supports three delivery guarantees:
//
//   - fire-and-forget: handlers run asynchronously, Publish returns once
//     dispatch is initiated
//   - reliable: Publish awaits every matching handler, retrying each
//     subscription with exponential backoff up to its configured maximum
//   - barrier-sync: PublishBarrierSync blocks the returned outcome channel
//     until a quorum of explicit responder votes (or a timeout) resolves the
//     event; a single ALARM vote is an absolute veto
//
// Subscriptions are pattern based. Patterns support exact matches, the
// match-all "#", "+" for exactly one path segment, "*" for arbitrarily many
// segments and hierarchical prefix matches ("prefix/#" matches "prefix"
// itself and anything below it).
//
// Every published event is additionally forwarded best-effort to an optional
// Transport collaborator for room-scoped client fan-out; forwarding failures
// are logged and never fail the publish.
//
// A Bus owns all of its state (subscription table, pending barrier table,
// bounded history ring); construct one per process or per test via New and
// drive its lifecycle with Start/Stop.
package eventbus
