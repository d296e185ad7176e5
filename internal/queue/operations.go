package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Stats returns spool totals recomputed from the current records.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.spool.Stats(ctx)
}

// List returns items in the given statuses (all items when none are given),
// oldest first.
func (m *Manager) List(ctx context.Context, statuses ...Status) ([]Item, error) {
	var (
		items []Item
		err   error
	)
	if len(statuses) == 0 {
		items, err = m.spool.List(ctx)
	} else {
		items, err = m.spool.ListByStatus(ctx, statuses...)
	}
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(items)
	return items, nil
}

// Get returns a single item by ID.
func (m *Manager) Get(ctx context.Context, id string) (Item, bool, error) {
	return m.spool.Read(ctx, id)
}

// Purge deletes items in the given statuses and forgets their keys so the
// same export can be enqueued again. Processing items are never purged. Purge
// waits for a running flush so a purged item cannot be written back by it.
func (m *Manager) Purge(ctx context.Context, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		return 0, errors.New("purge requires at least one status")
	}
	for _, status := range statuses {
		if status == StatusProcessing {
			return 0, errors.New("processing items cannot be purged")
		}
	}
	select {
	case m.flushSlot <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-m.flushSlot }()
	items, err := m.spool.ListByStatus(ctx, statuses...)
	if err != nil {
		return 0, fmt.Errorf("list items to purge: %w", err)
	}
	removed := 0
	var errs []error
	for _, item := range items {
		if err := m.spool.Delete(ctx, item.ID); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", item.ID, err))
			continue
		}
		m.tracker.Remove(item.ID)
		removed++
	}
	return removed, errors.Join(errs...)
}

// Cleanup runs spool reclamation outside of a flush.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	return m.spool.Cleanup(ctx)
}

// Seen reports whether id is a key this manager has accepted or found in the
// spool. A false Enqueue result for an unseen id means the write failed.
func (m *Manager) Seen(id string) bool {
	return m.tracker.Has(id)
}

// TrackedKeys reports how many idempotency keys are cached in memory.
func (m *Manager) TrackedKeys() int {
	return m.tracker.Size()
}

func sortByCreatedAt(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
