package dedup

import (
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/identity"
)

// Index is a lookup structure over one manufacturer's records. The
// orchestrator keeps it current with Put while applying outcomes so later
// reports in the same cycle see earlier changes.
//
// Index is not safe for concurrent use.
type Index struct {
	records  map[string]hardware.Record
	bySerial map[string]string
	byMAC    map[string]string
	byVendor map[string]string
	byIP     map[string]string // active records only
}

// NewIndex builds an index over records.
func NewIndex(records []hardware.Record) *Index {
	x := &Index{
		records:  make(map[string]hardware.Record, len(records)),
		bySerial: make(map[string]string, len(records)),
		byMAC:    make(map[string]string, len(records)),
		byVendor: make(map[string]string, len(records)),
		byIP:     make(map[string]string, len(records)),
	}
	for _, rec := range records {
		x.Put(rec)
	}
	return x
}

// Len returns the number of indexed records.
func (x *Index) Len() int {
	return len(x.records)
}

// Get returns the indexed copy of a record.
func (x *Index) Get(id string) (hardware.Record, bool) {
	rec, ok := x.records[id]
	return rec, ok
}

// Put inserts or replaces rec.
func (x *Index) Put(rec hardware.Record) {
	if old, ok := x.records[rec.ID]; ok {
		delete(x.records, rec.ID)
		x.unlink(old)
	}
	x.records[rec.ID] = rec
	x.link(rec)
}

// Records returns a snapshot of every indexed record.
func (x *Index) Records() []hardware.Record {
	out := make([]hardware.Record, 0, len(x.records))
	for _, rec := range x.records {
		out = append(out, rec)
	}
	return out
}

func (x *Index) link(rec hardware.Record) {
	x.claim(x.bySerial, rec.Serial, rec)
	x.claim(x.byMAC, rec.MAC, rec)
	x.claim(x.byVendor, rec.VendorID, rec)
	if rec.Active() && rec.IP != "" {
		x.claim(x.byIP, rec.IP, rec)
	}
}

// claim points key at rec unless an active record already owns it.
func (x *Index) claim(m map[string]string, key string, rec hardware.Record) {
	if key == "" {
		return
	}
	if cur, ok := m[key]; ok && cur != rec.ID {
		if owner, ok := x.records[cur]; ok && (owner.Active() || !rec.Active()) {
			return
		}
	}
	m[key] = rec.ID
}

func (x *Index) unlink(old hardware.Record) {
	x.release(x.bySerial, old.Serial, old.ID, func(r hardware.Record) string { return r.Serial })
	x.release(x.byMAC, old.MAC, old.ID, func(r hardware.Record) string { return r.MAC })
	x.release(x.byVendor, old.VendorID, old.ID, func(r hardware.Record) string { return r.VendorID })
	x.release(x.byIP, old.IP, old.ID, func(r hardware.Record) string {
		if !r.Active() {
			return ""
		}
		return r.IP
	})
}

// release drops key if it points at id and hands it to another record
// sharing the key, if any.
func (x *Index) release(m map[string]string, key, id string, field func(hardware.Record) string) {
	if key == "" || m[key] != id {
		return
	}
	delete(m, key)
	for _, rec := range x.records {
		if rec.ID != id && field(rec) == key {
			x.claim(m, key, rec)
		}
	}
}

func (x *Index) lookup(m map[string]string, key string) *hardware.Record {
	if key == "" {
		return nil
	}
	id, ok := m[key]
	if !ok {
		return nil
	}
	rec := x.records[id]
	return &rec
}

// Classify classifies id against the indexed records.
func (x *Index) Classify(id identity.Identity) Result {
	res := Result{Identity: id}

	holder := x.lookup(x.byIP, id.IP)
	serial := x.lookup(x.bySerial, id.Serial)
	mac := x.lookup(x.byMAC, id.MAC)

	if serial != nil && mac != nil && serial.ID != mac.ID {
		res.Outcome = OutcomeConflict
		res.MatchedBy = BySerial
		res.Match = serial
		res.Rival = mac
		res.Reason = ReasonSerialMACSplit
		return res
	}

	switch {
	case serial != nil:
		return x.matchHeld(res, BySerial, serial, holder)

	case mac != nil:
		return x.matchHeld(res, ByMAC, mac, holder)
	}

	if id.VendorID != "" {
		if rec := x.lookup(x.byVendor, id.VendorID); rec != nil {
			return x.matchHeld(res, ByVendorID, rec, holder)
		}
	} else if holder != nil && holder.VendorID == "" {
		res.MatchedBy = ByIP
		res.Match = holder
		res.Outcome = OutcomeDuplicate
		return res
	}

	if holder != nil {
		res.Outcome = OutcomeConflict
		res.Rival = holder
		res.Reason = ReasonIPHeldNoMatch
		return res
	}

	res.Outcome = OutcomeNew
	return res
}

// matchHeld finishes a match: the reported IP may not belong to another
// active record.
func (x *Index) matchHeld(res Result, by MatchedBy, match, holder *hardware.Record) Result {
	res.MatchedBy = by
	res.Match = match
	if holder != nil && holder.ID != match.ID {
		res.Outcome = OutcomeConflict
		res.Rival = holder
		res.Reason = ReasonIPHeldByOther
		return res
	}
	res.Outcome = ipOutcome(res.Identity, match)
	return res
}

func ipOutcome(id identity.Identity, match *hardware.Record) Outcome {
	if id.IP == "" || id.IP == match.IP {
		return OutcomeDuplicate
	}
	return OutcomeMoved
}
