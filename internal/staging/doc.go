// Package staging provides the file staging state machine.
//
// This package holds the rules for what a user may stage before submitting,
// independent of any UI or transport layer. The web handlers drive it, but it
// can equally be driven from tests or a CLI without modification.
//
// # Architecture
//
//   - Validator: [Classify] and [Rules] decide whether a candidate file is
//     acceptable from its MIME type and size alone.
//   - Store: [Store] owns the ordered list of staged entries, enforces the
//     count cap and manages preview handles through a [Previewer].
//   - Controller: [Controller] submits the valid subset, clears the store and
//     keeps a success notice that expires on its own.
//
// # Preview Handles
//
// Every entry in a [Store] holds exactly one live [Handle]. Handles are
// acquired when an entry is created (Add, ReplaceAt) and released when it
// leaves the store (ReplaceAt, RemoveAt, Clear). There is no garbage
// collection of handles: every removal path releases inline.
//
// # Batches
//
// [Store.Add] accepts or rejects a batch as a whole. A batch that would push
// the store past its cap fails with [ErrLimitExceeded] and leaves the store
// exactly as it was, with no handle acquired for any file in the batch.
//
// Files that fail validation are still staged. They carry their [Reason] so
// the user can see what is wrong and remove or replace them.
//
// # Subscriptions
//
// Store and Controller publish immutable values ([Snapshot], [Notice]) to
// subscribers on every change. Delivery is latest-wins: a slow subscriber
// misses intermediate values but always sees the most recent one.
package staging
