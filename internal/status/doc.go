// Package status holds the printer state model: a Snapshot accumulated from
// partial Moonraker status fragments, and the Document projection written to
// the document store.
//
//   - merge.go: Snapshot, FileMetadata, Merge (one-level field union).
//   - transform.go: Document and Transform (field selection, defaults,
//     time-remaining estimate).
//   - round.go: half-to-even rounding and numeric coercion.
//
// Everything here is pure and allocation-only; callers own synchronization.
package status
