// Package dedup classifies a reported device identity against the existing
// inventory of one manufacturer.
//
// Match priority is serial, then MAC, then vendor id (or bare IP when the
// vendor reports no id). Any match whose reported IP is held by another
// active record is a Conflict, as is a serial and MAC pointing at two
// different records. Conflicts are reported, never merged.
//
// Retired records take part in serial, MAC and vendor-id matching so a
// retired unit is never re-created, but they never hold an IP.
package dedup

import (
	"errors"
	"fmt"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/identity"
)

// Outcome is the classification of one report.
type Outcome string

// Outcomes.
const (
	OutcomeNew       Outcome = "new"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMoved     Outcome = "moved"
	OutcomeConflict  Outcome = "conflict"
)

// MatchedBy names the identity field that produced the match.
type MatchedBy string

// Match keys.
const (
	ByNone     MatchedBy = ""
	BySerial   MatchedBy = "serial"
	ByMAC      MatchedBy = "mac"
	ByVendorID MatchedBy = "vendor_id"
	ByIP       MatchedBy = "ip"
)

// Conflict reasons.
const (
	ReasonSerialMACSplit = "serial and mac match different records"
	ReasonIPHeldByOther  = "reported ip is held by another active record"
	ReasonIPHeldNoMatch  = "no record matched and the reported ip is held by an active record"
)

// ErrConflict marks a report that would merge two records.
var ErrConflict = errors.New("dedup: ambiguous merge target")

// ConflictError describes a Conflict outcome.
type ConflictError struct {
	Identity  identity.Identity
	MatchedID string
	RivalID   string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dedup: conflict for %s: %s (matched %q, rival %q)",
		e.Identity, e.Reason, e.MatchedID, e.RivalID)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Result is the classification of one report.
type Result struct {
	Outcome   Outcome
	MatchedBy MatchedBy
	Identity  identity.Identity

	// Match is the record the report belongs to. Nil for New, and for a
	// Conflict where nothing matched.
	Match *hardware.Record

	// Rival is the other record implicated in a Conflict: the IP holder or
	// the record matched by MAC.
	Rival *hardware.Record

	// Reason explains a Conflict.
	Reason string
}

// Err returns a *ConflictError for Conflict outcomes and nil otherwise.
func (r Result) Err() error {
	if r.Outcome != OutcomeConflict {
		return nil
	}
	ce := &ConflictError{Identity: r.Identity, Reason: r.Reason}
	if r.Match != nil {
		ce.MatchedID = r.Match.ID
	}
	if r.Rival != nil {
		ce.RivalID = r.Rival.ID
	}
	return ce
}

// Classify classifies id against records. It does not modify records.
func Classify(id identity.Identity, records []hardware.Record) Result {
	return NewIndex(records).Classify(id)
}
