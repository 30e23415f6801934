// Package hardware holds the fleet inventory model and its persistence.
//
// A Record is one physical RF base unit reported by a vendor API. Records
// are never deleted; retiring a device is a lifecycle transition. Each
// record owns a set of ChannelSlots, one per RF channel resource, which
// only the channel reconciler creates and deletes.
//
// Storage invariants are enforced by SQLite indexes rather than by callers:
//
//   - (manufacturer, vendor_id) is unique when vendor_id is set
//   - at most one non-retired record holds a given IP
//   - (record_id, channel) is unique and channel >= 1
//
// Violations surface as ErrRecordExists and ErrIPInUse so the reconcilers
// can classify them with errors.Is.
//
// # Repositories
//
//	Repository           hardware_records
//	ChannelRepository    channel_slots
//	CandidateRepository  discovery_candidates (manual entries)
//	ConflictRepository   conflict_reports
//
// All SQLite implementations take a *sql.DB opened by the database package
// with migrations applied.
package hardware
