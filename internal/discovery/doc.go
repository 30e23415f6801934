// Package discovery keeps each vendor's remote discovery list convergent
// with the locally derived candidate set.
//
// A run fetches the vendor's list, materializes candidates from the
// candidate.Builder, and submits to_add = candidates - remote and
// to_remove = remote - candidates one IP at a time. Every run is tracked
// as a Job whose counters are persisted and published after each batch, so
// long CIDR and FQDN scans stay observable. Cancellation is cooperative:
// the context and the job's cancel flag are checked between batches.
//
// When any candidate source fails during the scan, removals are skipped
// for that run so an incomplete candidate set never strips the vendor's
// list.
package discovery
