// Package queue sends a print-start message to whoever requested the job
// that is now printing, and records that it did so on the queue item.
package queue
