package queue

import "context"

// Spool persists items keyed by ID. Implementations own byte-level storage
// only; status semantics belong to the Manager.
type Spool interface {
	// Write stores the full item, replacing any previous record with the same ID.
	Write(ctx context.Context, item Item) error
	// Read returns the item and true, or false when it is absent or unreadable.
	Read(ctx context.Context, id string) (Item, bool, error)
	// Delete removes the record. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error
	// List returns every readable record.
	List(ctx context.Context) ([]Item, error)
	// ListByStatus returns readable records in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]Item, error)
	Stats(ctx context.Context) (Stats, error)
	// Cleanup reclaims items past the age limit, then the oldest items until
	// the spool fits the size limit. It returns the number of items removed.
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

// Deliverer sends one item to the remote sink. It must not retain or mutate
// the item; a nil error means the sink accepted it.
type Deliverer interface {
	Deliver(ctx context.Context, item Item) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, item Item) error

// Deliver calls f(ctx, item).
func (f DeliverFunc) Deliver(ctx context.Context, item Item) error {
	return f(ctx, item)
}
