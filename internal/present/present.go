// Package present renders registry state. The human presenter narrates each
// merge and prints an end-of-session summary; the machine presenter emits
// one self-contained JSON record per merge and nothing else, so a consumer
// can reconstruct the registry by replaying the stream.
package present

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"bluescan/internal/observation"
)

// Presenter receives every registry merge and the final state.
type Presenter interface {
	// Observed is called after each merge with the updated record.
	Observed(rec *observation.Record, firstSeen bool)

	// Summary is called once, after the session finished, with all
	// records in first-seen order.
	Summary(recs []*observation.Record, elapsed time.Duration)
}

// Human writes multi-line human-readable text.
type Human struct {
	w io.Writer
}

// NewHuman creates a human-mode presenter writing to w.
func NewHuman(w io.Writer) *Human {
	return &Human{w: w}
}

// Observed prints a Found/Updated block with the record's current fields.
func (h *Human) Observed(rec *observation.Record, firstSeen bool) {
	if firstSeen {
		fmt.Fprintln(h.w, color.GreenString("Found device:"))
	} else {
		fmt.Fprintln(h.w, color.YellowString("Updated device:"))
	}

	addr := rec.Address
	if addr == "" {
		addr = observation.UnknownName
		fmt.Fprintf(h.w, "  Path: %s\n", rec.Identity)
	}
	fmt.Fprintf(h.w, "  Address: %s\n", addr)
	fmt.Fprintf(h.w, "  Name: %s\n", rec.Name)
	fmt.Fprintf(h.w, "  RSSI: %s\n", rec.RSSIString())
	if len(rec.Vendor) > 0 {
		fmt.Fprintln(h.w, "  ManufacturerData:")
		for _, code := range rec.Vendor.Codes() {
			fmt.Fprintf(h.w, "    %s:%s\n", observation.VendorTag(code), rec.Vendor[code].Hex())
		}
	}
	fmt.Fprintln(h.w)
}

// Summary prints the device count and one line per record in first-seen
// order.
func (h *Human) Summary(recs []*observation.Record, elapsed time.Duration) {
	fmt.Fprintf(h.w, "Scan duration: %.1fs\n", elapsed.Seconds())

	if len(recs) == 0 {
		fmt.Fprintln(h.w, "No devices discovered.")
		return
	}

	fmt.Fprintf(h.w, "Total unique devices discovered: %d\n", len(recs))
	for _, rec := range recs {
		id := rec.Address
		if id == "" {
			id = rec.Identity
		}
		fmt.Fprintf(h.w, "%s: %s (RSSI=%s)\n", id, rec.Name, rec.RSSIString())
	}
}

// Machine writes one JSON record per line. Nothing else may be written to
// its stream.
type Machine struct {
	enc *json.Encoder
}

// NewMachine creates a machine-mode presenter writing to w.
func NewMachine(w io.Writer) *Machine {
	return &Machine{enc: json.NewEncoder(w)}
}

// machineRecord is the wire shape of one emitted record. Vendor payloads
// are hex strings keyed by a fixed-width hex vendor tag; an unreadable
// payload is null.
type machineRecord struct {
	Identity         string             `json:"identity"`
	Address          string             `json:"address"`
	Name             string             `json:"name"`
	RSSI             *int16             `json:"rssi"`
	ManufacturerData map[string]*string `json:"manufacturer_data"`
}

// Observed emits the full current record state, not a diff.
func (m *Machine) Observed(rec *observation.Record, firstSeen bool) {
	out := machineRecord{
		Identity:         rec.Identity,
		Address:          rec.Address,
		Name:             rec.Name,
		RSSI:             rec.RSSI,
		ManufacturerData: make(map[string]*string, len(rec.Vendor)),
	}
	for _, code := range rec.Vendor.Codes() {
		payload := rec.Vendor[code]
		if payload.Unreadable {
			out.ManufacturerData[observation.VendorTag(code)] = nil
			continue
		}
		hex := payload.Hex()
		out.ManufacturerData[observation.VendorTag(code)] = &hex
	}

	// An encode failure means the stream is gone (broken pipe); there is
	// nowhere useful left to report it on this writer.
	_ = m.enc.Encode(out)
}

// Summary is a no-op: consumers reconstruct state by replaying the stream.
func (m *Machine) Summary([]*observation.Record, time.Duration) {}
