// Package identity turns raw vendor payloads into canonical identity tuples.
//
// Vendors disagree on field names and on how they spell the same value: MACs
// arrive dash-, dot- or colon-separated, IPs carry ports or prefixes, numbers
// come back as floats. Resolve applies a per-manufacturer FieldMap and
// normalizes every value so the deduplication engine compares like with like.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

// FieldMap names the payload keys carrying each identity field. Keys may be
// dotted paths into nested objects, e.g. "network.ipv4".
type FieldMap struct {
	VendorID string
	Serial   string
	MAC      string
	IP       string
	Role     string
	Model    string
	Name     string
	Firmware string
	Capacity string
}

// DefaultFieldMap returns the keys used when a manufacturer configures none.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		VendorID: "id",
		Serial:   "serial",
		MAC:      "mac",
		IP:       "ip",
		Role:     "role",
		Model:    "model",
		Name:     "name",
		Firmware: "firmware",
		Capacity: "capacity",
	}
}

// WithDefaults fills empty entries from DefaultFieldMap.
func (m FieldMap) WithDefaults() FieldMap {
	d := DefaultFieldMap()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return FieldMap{
		VendorID: pick(m.VendorID, d.VendorID),
		Serial:   pick(m.Serial, d.Serial),
		MAC:      pick(m.MAC, d.MAC),
		IP:       pick(m.IP, d.IP),
		Role:     pick(m.Role, d.Role),
		Model:    pick(m.Model, d.Model),
		Name:     pick(m.Name, d.Name),
		Firmware: pick(m.Firmware, d.Firmware),
		Capacity: pick(m.Capacity, d.Capacity),
	}
}

// Identity is the canonical tuple for one reported device. Empty strings
// mean absent.
type Identity struct {
	VendorID string
	Serial   string
	MAC      string
	IP       string

	Role     hardware.Role
	Model    string
	Name     string
	Firmware string

	// Capacity is -1 when the payload did not report one.
	Capacity int
}

// HasCapacity reports whether the payload carried a usable capacity.
func (id Identity) HasCapacity() bool {
	return id.Capacity >= 0
}

// String renders the identity for logs.
func (id Identity) String() string {
	return fmt.Sprintf("vendor_id=%q serial=%q mac=%q ip=%q", id.VendorID, id.Serial, id.MAC, id.IP)
}

// Resolve extracts and normalizes the identity fields of payload.
// ok is false when neither a vendor id nor an IP survives normalization;
// such payloads cannot be reconciled.
func Resolve(payload map[string]any, fields FieldMap) (Identity, bool) {
	fields = fields.WithDefaults()

	id := Identity{
		VendorID: Text(lookup(payload, fields.VendorID)),
		Serial:   strings.ToUpper(Text(lookup(payload, fields.Serial))),
		MAC:      NormalizeMAC(Text(lookup(payload, fields.MAC))),
		IP:       NormalizeIP(Text(lookup(payload, fields.IP))),
		Model:    Text(lookup(payload, fields.Model)),
		Name:     Text(lookup(payload, fields.Name)),
		Firmware: Text(lookup(payload, fields.Firmware)),
		Capacity: capacity(lookup(payload, fields.Capacity)),
	}
	if role, ok := hardware.ParseRole(Text(lookup(payload, fields.Role))); ok {
		id.Role = role
	}

	if id.VendorID == "" && id.IP == "" {
		return id, false
	}
	return id, true
}

// lookup walks a dotted key through nested objects.
func lookup(payload map[string]any, key string) any {
	if payload == nil || key == "" {
		return nil
	}
	if v, ok := payload[key]; ok {
		return v
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return nil
	}
	switch nested := payload[head].(type) {
	case map[string]any:
		return lookup(nested, rest)
	default:
		return nil
	}
}

// Text renders a payload value as trimmed text. Numbers never use exponent
// notation; nil and composite values render empty.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return x.String()
		}
		if f, err := x.Float64(); err == nil {
			return formatFloat(f)
		}
		return strings.TrimSpace(x.String())
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NormalizeMAC accepts colon, dash, dot and bare hex forms and returns the
// upper-case colon-separated rendering, or "" when s is not a MAC.
func NormalizeMAC(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if isBareHex(s) {
		var b strings.Builder
		for i := 0; i < len(s); i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		s = b.String()
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return ""
	}
	return strings.ToUpper(hw.String())
}

func isBareHex(s string) bool {
	if len(s) != 12 && len(s) != 16 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// NormalizeIP returns the canonical form of an address. Ports and prefix
// lengths are stripped and IPv4-mapped IPv6 addresses are unmapped.
// Unparsable input yields "".
func NormalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().WithZone("").String()
	}
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Unmap().String()
	}
	return ""
}

func capacity(v any) int {
	text := Text(v)
	if text == "" {
		return -1
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && f >= 0 && f == math.Trunc(f) && f <= math.MaxInt32 {
		return int(f)
	}
	return -1
}
