// Package followcache provides a client-side cache for a paginated "following"
// list with optimistic follow mutations.
//
// Overview
//
// followcache keeps one materialized list per subscription and folds every
// server response into it through pure merge functions:
//   - AppendPage: appends the next page and advances the cursor.
//   - InsertSpeculative: shows a locally synthesized entry before the server
//     has confirmed a follow.
//   - Reconcile / ConfirmSpeculative: merges the confirmed entry, keeping
//     login unique.
//   - Rollback: removes a speculative entry after a failed follow.
//
// Key concepts
//   - Store: the live handle returned by Subscribe. Owns the CacheState,
//     publishes immutable snapshots on Updates and serializes LoadMore.
//   - Reconciler: drives one Follow action through
//     idle → speculative → confirmed | failed.
//   - QuerySource / MutationSink: transport collaborators. The directory and
//     graphql packages ship reference implementations.
package followcache
