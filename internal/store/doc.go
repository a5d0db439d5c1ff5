// Package store provides the SQLite-backed record store behind the workflow.
//
// Records are JSON documents grouped by table and addressed by id:
//   - training_requests, trainer_applications, calendar_events,
//     channels, messages, trainer_profiles
//
// The store plays the part of the remote backend: create/get/update/delete,
// filtered queries, conditional updates, batch updates, and a change feed.
//
// # Critical Patterns
//
// Conditional writes:
//   - UpdateIf applies a patch in a single UPDATE whose WHERE clause carries
//     the caller's JSON predicates. Either the row matched and changed, or
//     nothing happened and ErrConditionFailed is returned. There is no
//     read-then-write window.
//
// Deterministic ordering:
//   - Every write is stamped with seq from a logical clock
//   - All queries use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// Uniqueness:
//   - At most one trainer_applications record per (training_request_id,
//     trainer_id), enforced by a unique expression index
//
// Change feed:
//   - Every committed write is published to subscribers as a Change.
//     Subscriber queues are unbounded so writers never block on readers.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The same schema also holds offline_actions, the local journal of the
// offline mutation queue.
package store
