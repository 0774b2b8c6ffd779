// Package store maps a DynamoDB table with a single partition key as a
// dictionary: key to item.
//
// # Operations
//
//   - [Store.Get], [Store.Contains] read one item.
//   - [Store.Put] replaces a whole item.
//   - [Store.Update] changes individual attributes with a native
//     UpdateItem (SET and REMOVE), so untouched attributes are never
//     rewritten.
//   - [Store.Delete] removes an item.
//   - [Store.All], [Store.Keys] and [Store.Snapshot] scan the table lazily,
//     page by page.
//
// Writes accept [Condition] values: [IfExists], [IfNotExists] and, when
// Config.VersionAttribute is set, [IfVersion] for optimistic locking.
//
// # Configuration
//
// Use [DefaultConfig] and [Open] to discover the key attribute:
//
//	cfg := store.DefaultConfig("orders")
//	s, err := store.Open(ctx, dynamodb.NewFromConfig(awsCfg), cfg, logger)
//
// # Errors
//
// Every error is an [*OpError] wrapping one of:
//
//   - [ErrNotFound] - the item doesn't exist
//   - [ErrConflict] - a write condition failed against an existing item
//   - [ErrUnavailable] - throttled, service or network failure, after
//     Config.MaxAttempts attempts with jittered exponential backoff
//   - [ErrKeyMismatch] - the write would change an item's key
package store
