// Package chronicle is an event sourcing toolkit: an append-only event store
// with optimistic concurrency control, snapshot-accelerated aggregates, and a
// streaming projection engine with checkpointed rebuilds and live tailing.
//
// The event log is the single source of truth. Aggregates fold their streams
// into state, snapshots only shorten replay, and projections derive read
// models that can always be rebuilt from the log.
//
// Basic usage:
//
//	adapter := memory.NewAdapter()
//	store, _ := chronicle.NewEventStore(adapter)
//	repo, _ := chronicle.NewRepository(store, serializer)
//
//	account := NewAccount("acc-1")
//	_ = account.Open("alice", 100)
//	_ = repo.Save(ctx, account)
//
// Storage backends live under the storage package; postgres and memory
// implementations are provided.
package chronicle

import "fmt"

// Version is the library version.
const Version = "0.4.1"

// BuildStreamID builds a stream identifier from an aggregate type and ID,
// following the "Category-ID" convention.
func BuildStreamID(aggregateType, aggregateID string) string {
	return fmt.Sprintf("%s-%s", aggregateType, aggregateID)
}
