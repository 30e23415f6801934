package hardware

import (
	"strings"
	"time"
)

// Role is the radio role of a base unit.
type Role string

// Roles.
const (
	RoleReceiver    Role = "receiver"
	RoleTransmitter Role = "transmitter"
	RoleTransceiver Role = "transceiver"
)

// AllRoles lists the valid roles.
var AllRoles = []Role{RoleReceiver, RoleTransmitter, RoleTransceiver}

// ParseRole maps vendor spellings onto a Role. Matching is
// case-insensitive and accepts a few common abbreviations.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "receiver", "rx":
		return RoleReceiver, true
	case "transmitter", "tx":
		return RoleTransmitter, true
	case "transceiver", "trx", "txrx", "rxtx":
		return RoleTransceiver, true
	default:
		return "", false
	}
}

// Status is the lifecycle state of a record.
type Status string

// Lifecycle states.
const (
	StatusDiscovered   Status = "discovered"
	StatusProvisioning Status = "provisioning"
	StatusOnline       Status = "online"
	StatusDegraded     Status = "degraded"
	StatusOffline      Status = "offline"
	StatusMaintenance  Status = "maintenance"
	StatusRetired      Status = "retired"
)

// AllStatuses lists every lifecycle state.
var AllStatuses = []Status{
	StatusDiscovered,
	StatusProvisioning,
	StatusOnline,
	StatusDegraded,
	StatusOffline,
	StatusMaintenance,
	StatusRetired,
}

// Active reports whether records in this state count as live inventory.
func (s Status) Active() bool {
	return s != StatusRetired
}

// OnlineClass reports whether time spent in this state counts as uptime.
func (s Status) OnlineClass() bool {
	return s == StatusOnline || s == StatusDegraded
}

// Record is the canonical inventory entry for one physical RF base unit.
// This matches hardware_records in migrations/20261018_120000_fleet_schema.up.sql.
type Record struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`

	// Identity as reported by the vendor, normalized.
	VendorID string `json:"vendor_id,omitempty"`
	Serial   string `json:"serial,omitempty"`
	MAC      string `json:"mac,omitempty"`
	IP       string `json:"ip,omitempty"`

	// Metadata
	Name            string `json:"name,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	Role   Role   `json:"role"`
	Status Status `json:"status"`

	// Channel capability
	Capacity       int  `json:"capacity"`
	CapacityExempt bool `json:"capacity_exempt"`

	// Lifecycle bookkeeping
	UptimeSeconds   int64     `json:"uptime_seconds"`
	Stale           bool      `json:"stale,omitempty"` // taken offline by the stale sweep
	LastSeen        time.Time `json:"last_seen,omitzero"`
	StatusChangedAt time.Time `json:"status_changed_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	return &cpy
}

// Active reports whether the record is live inventory.
func (r *Record) Active() bool {
	return r.Status.Active()
}

// Direction is the link direction of a channel slot.
type Direction string

// Link directions.
const (
	DirectionReceive       Direction = "receive"
	DirectionSend          Direction = "send"
	DirectionBidirectional Direction = "bidirectional"
)

// DirectionForRole derives the slot direction from the owner's role.
func DirectionForRole(role Role) Direction {
	switch role {
	case RoleReceiver:
		return DirectionReceive
	case RoleTransmitter:
		return DirectionSend
	default:
		return DirectionBidirectional
	}
}

// SlotState is the resource state of a channel slot.
type SlotState string

// Slot states.
const (
	SlotFree     SlotState = "free"
	SlotReserved SlotState = "reserved"
	SlotActive   SlotState = "active"
	SlotDegraded SlotState = "degraded"
	SlotDisabled SlotState = "disabled"
)

// ChannelSlot is one RF channel resource owned by a record.
type ChannelSlot struct {
	RecordID  string    `json:"record_id"`
	Channel   int       `json:"channel"`
	Direction Direction `json:"direction"`
	State     SlotState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// CandidateSource tags where a discovery candidate came from.
type CandidateSource string

// Candidate sources, in the order the candidate builder consults them.
const (
	SourceInventory CandidateSource = "inventory"
	SourceCIDR      CandidateSource = "cidr"
	SourceFQDN      CandidateSource = "fqdn"
	SourceManual    CandidateSource = "manual"
)

// Candidate is an IP under consideration for vendor-side discovery
// registration. Only manual candidates are persisted; the others are
// derived on every run.
type Candidate struct {
	ID           string          `json:"id,omitempty"`
	Manufacturer string          `json:"manufacturer"`
	IP           string          `json:"ip"`
	Source       CandidateSource `json:"source"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at,omitzero"`
}

// Conflict is a durable record of a dedup classification that could not be
// applied without merging two records. Open conflicts are unique per
// (manufacturer, matched record, IP holder, reported IP).
type Conflict struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`

	ReportedVendorID string `json:"reported_vendor_id,omitempty"`
	ReportedSerial   string `json:"reported_serial,omitempty"`
	ReportedMAC      string `json:"reported_mac,omitempty"`
	ReportedIP       string `json:"reported_ip,omitempty"`

	MatchedRecordID string `json:"matched_record_id,omitempty"`
	IPHolderID      string `json:"ip_holder_id,omitempty"`
	Reason          string `json:"reason"`

	DetectedAt  time.Time `json:"detected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Occurrences int       `json:"occurrences"`
	Resolved    bool      `json:"resolved"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`
}
