// Package queue owns the export item lifecycle: enqueue with duplicate
// suppression, periodic flush to a delivery sink, retry bookkeeping, and
// dead-lettering.
//
// Persistence is delegated to a Spool implementation (see internal/spool) and
// delivery to a Deliverer (see internal/delivery). The Manager is the only
// component that decides status transitions:
//
//	(new) -> pending -> processing -> deleted      (delivery succeeded)
//	                               -> failed       (retry_count < max_retries)
//	                               -> dead         (retry_count >= max_retries)
//	failed -> processing -> ...                    (next flush)
//
// Dead items are terminal and stay in the spool until age or size cleanup
// reclaims them. Delivery is at-least-once; sinks deduplicate on Item.ID.
package queue
