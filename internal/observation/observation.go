package observation

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnknownName is the display name a record carries until a channel reports
// a real one. Normalizers never emit it; the registry applies it exactly
// once, at record creation.
const UnknownName = "Unknown"

// VendorPayload is one manufacturer-data entry from an advertisement.
// Unreadable marks an entry whose bytes could not be decoded; the entry is
// kept so the corruption is visible instead of silently dropped.
type VendorPayload struct {
	Data       []byte
	Unreadable bool
}

// Hex renders the payload as uppercase hex, or a marker when unreadable.
func (p VendorPayload) Hex() string {
	if p.Unreadable {
		return "(unreadable)"
	}
	return strings.ToUpper(hex.EncodeToString(p.Data))
}

// VendorMap maps a 16-bit vendor (company) code to its payload.
type VendorMap map[uint16]VendorPayload

// VendorTag formats a vendor code as a fixed-width hex tag, e.g. 0x004C.
func VendorTag(code uint16) string {
	return fmt.Sprintf("0x%04X", code)
}

// Codes returns the vendor codes in ascending order for stable output.
func (m VendorMap) Codes() []uint16 {
	codes := make([]uint16, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Partial is one fact-bearing observation of a device, possibly incomplete.
// Identity is always set; every other field is optional because a single
// event or line may carry only a subset of what is known about a device.
type Partial struct {
	// Identity is the stable dedup key: the device address when known,
	// otherwise a fallback object path or handle.
	Identity string
	// Address is the device address, empty when Identity is a fallback.
	Address string
	// Name is the reported display name, empty when this observation
	// did not carry one.
	Name string
	// RSSI is the channel-reported signal strength, nil when absent.
	RSSI *int16
	// Vendor holds manufacturer data keyed by vendor code, possibly empty.
	Vendor VendorMap
}

// Record is the aggregated, authoritative state for one device within a
// session. It is created on the first observation of an identity and
// mutated in place by every later one.
type Record struct {
	Identity      string
	Address       string
	Name          string
	RSSI          *int16
	Vendor        VendorMap
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
}

// NewRecord creates a record for a first-seen identity with defaults
// applied: name falls back to UnknownName, vendor map is initialized.
func NewRecord(identity string, now time.Time) *Record {
	return &Record{
		Identity:      identity,
		Name:          UnknownName,
		Vendor:        make(VendorMap),
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}
}

// HasRSSI reports whether a signal strength has ever been observed.
func (r *Record) HasRSSI() bool {
	return r.RSSI != nil
}

// RSSIString renders the last known signal strength, or "N/A".
func (r *Record) RSSIString() string {
	if r.RSSI == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *r.RSSI)
}
