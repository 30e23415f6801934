// Package candidate builds the set of IP addresses a manufacturer's
// discovery list should contain.
//
// Sources are read in a fixed order: inventory IPs, CIDR host addresses,
// FQDN forward lookups, then manual candidates. The first occurrence of an
// address wins and later duplicates are skipped. The sequence is lazy and
// every range over it re-reads the sources.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"slices"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

// DefaultMaxHosts bounds a CIDR range when no limit is configured.
const DefaultMaxHosts = 256

// Sentinel errors.
var (
	ErrInvalidCIDR = errors.New("candidate: invalid cidr")
	ErrResolve     = errors.New("candidate: fqdn lookup failed")
	ErrSource      = errors.New("candidate: source unavailable")
)

// Candidate is one address considered for vendor-side discovery.
type Candidate struct {
	IP     string
	Source hardware.CandidateSource
	// Origin is the record ID, CIDR, FQDN or manual candidate ID that
	// produced the address.
	Origin string
}

// Resolver performs forward lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// RecordLister lists a manufacturer's records.
type RecordLister interface {
	ListByManufacturer(ctx context.Context, manufacturer string) ([]hardware.Record, error)
}

// ManualLister lists a manufacturer's persisted manual candidates.
type ManualLister interface {
	ListByManufacturer(ctx context.Context, manufacturer string) ([]hardware.Candidate, error)
}

// Config selects the sources for one manufacturer.
type Config struct {
	Manufacturer     string
	IncludeInventory bool
	CIDRs            []string
	FQDNs            []string
	MaxHosts         int
}

// Builder produces candidate sequences. Any of records, manual and
// resolver may be nil to disable that source.
type Builder struct {
	cfg      Config
	records  RecordLister
	manual   ManualLister
	resolver Resolver
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config, records RecordLister, manual ManualLister, resolver Resolver) *Builder {
	if cfg.MaxHosts <= 0 {
		cfg.MaxHosts = DefaultMaxHosts
	}
	return &Builder{cfg: cfg, records: records, manual: manual, resolver: resolver}
}

// Candidates returns the lazy candidate sequence. A source failure yields
// a zero Candidate with a non-nil error and the sequence carries on with
// the next source. Cancelling ctx yields ctx.Err() once and stops.
func (b *Builder) Candidates(ctx context.Context) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		seen := make(map[netip.Addr]struct{})

		// emit reports false when the consumer stopped.
		emit := func(addr netip.Addr, src hardware.CandidateSource, origin string) bool {
			addr = addr.Unmap().WithZone("")
			if _, dup := seen[addr]; dup {
				return true
			}
			seen[addr] = struct{}{}
			return yield(Candidate{IP: addr.String(), Source: src, Origin: origin}, nil)
		}
		fail := func(err error) bool {
			return yield(Candidate{}, err)
		}

		if b.cfg.IncludeInventory && b.records != nil {
			if !b.inventory(ctx, emit, fail) {
				return
			}
		}

		for _, cidr := range b.cfg.CIDRs {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				if !fail(fmt.Errorf("%w %q: %w", ErrInvalidCIDR, cidr, err)) {
					return
				}
				continue
			}
			n := 0
			for addr := range Hosts(prefix, b.cfg.MaxHosts) {
				n++
				if n%256 == 0 {
					if err := ctx.Err(); err != nil {
						fail(err)
						return
					}
				}
				if !emit(addr, hardware.SourceCIDR, cidr) {
					return
				}
			}
		}

		if b.resolver != nil {
			for _, fqdn := range b.cfg.FQDNs {
				if err := ctx.Err(); err != nil {
					fail(err)
					return
				}
				addrs, err := b.resolver.LookupNetIP(ctx, "ip", fqdn)
				if err != nil {
					if !fail(fmt.Errorf("%w: %s: %w", ErrResolve, fqdn, err)) {
						return
					}
					continue
				}
				for _, addr := range addrs {
					if !emit(addr, hardware.SourceFQDN, fqdn) {
						return
					}
				}
			}
		}

		if b.manual != nil {
			list, err := b.manual.ListByManufacturer(ctx, b.cfg.Manufacturer)
			if err != nil {
				fail(fmt.Errorf("%w: manual candidates: %w", ErrSource, err))
				return
			}
			for _, c := range list {
				addr, err := netip.ParseAddr(c.IP)
				if err != nil {
					continue
				}
				if !emit(addr, hardware.SourceManual, c.ID) {
					return
				}
			}
		}
	}
}

func (b *Builder) inventory(ctx context.Context, emit func(netip.Addr, hardware.CandidateSource, string) bool, fail func(error) bool) bool {
	records, err := b.records.ListByManufacturer(ctx, b.cfg.Manufacturer)
	if err != nil {
		return fail(fmt.Errorf("%w: inventory: %w", ErrSource, err))
	}

	type entry struct {
		addr netip.Addr
		id   string
	}
	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		if !rec.Active() || rec.IP == "" {
			continue
		}
		addr, err := netip.ParseAddr(rec.IP)
		if err != nil {
			continue
		}
		entries = append(entries, entry{addr: addr, id: rec.ID})
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.addr.Compare(b.addr) })

	for _, e := range entries {
		if !emit(e.addr, hardware.SourceInventory, e.id) {
			return false
		}
	}
	return true
}

// Estimate returns an upper bound on the number of candidates, used as the
// progress total of a scan. FQDNs count as one address each.
func (b *Builder) Estimate(ctx context.Context) int {
	total := len(b.cfg.FQDNs)
	if b.cfg.IncludeInventory && b.records != nil {
		if records, err := b.records.ListByManufacturer(ctx, b.cfg.Manufacturer); err == nil {
			total += len(records)
		}
	}
	for _, cidr := range b.cfg.CIDRs {
		if prefix, err := netip.ParsePrefix(cidr); err == nil {
			total += HostCount(prefix, b.cfg.MaxHosts)
		}
	}
	if b.manual != nil {
		if list, err := b.manual.ListByManufacturer(ctx, b.cfg.Manufacturer); err == nil {
			total += len(list)
		}
	}
	return total
}

// Hosts yields the host addresses of prefix in ascending order, at most
// maxHosts of them. IPv4 prefixes shorter than /31 skip the network and
// broadcast addresses.
func Hosts(prefix netip.Prefix, maxHosts int) iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		prefix = prefix.Masked()
		if !prefix.IsValid() || maxHosts <= 0 {
			return
		}
		skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31

		addr := prefix.Addr()
		if skipEdges {
			addr = addr.Next()
		}
		for n := 0; n < maxHosts && addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
			if skipEdges && !prefix.Contains(addr.Next()) {
				return
			}
			if !yield(addr) {
				return
			}
			n++
		}
	}
}

// HostCount returns how many addresses Hosts(prefix, maxHosts) yields.
func HostCount(prefix netip.Prefix, maxHosts int) int {
	prefix = prefix.Masked()
	if !prefix.IsValid() || maxHosts <= 0 {
		return 0
	}
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 31 {
		return maxHosts
	}
	usable := 1 << hostBits
	if prefix.Addr().Is4() && prefix.Bits() < 31 {
		usable -= 2
	}
	return min(usable, maxHosts)
}
