// Package codec exports a finished scan's device records to a file. The
// format follows the file extension; the exported shape is identical
// across formats so downstream tooling can treat them interchangeably.
package codec

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"bluescan/internal/observation"
)

// Exporter writes a record list in one format.
type Exporter interface {
	Export(recs []*observation.Record, w io.Writer) error
	Format() string
}

// ForPath selects an exporter by file extension. Supported: .json, .yaml,
// .yml.
func ForPath(path string) (Exporter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJSONExporter(), nil
	case ".yaml", ".yml":
		return NewYAMLExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format for %q (use .json, .yaml or .yml)", path)
	}
}

// device is the exported shape of one record.
type device struct {
	Identity         string            `json:"identity" yaml:"identity"`
	Address          string            `json:"address,omitempty" yaml:"address,omitempty"`
	Name             string            `json:"name" yaml:"name"`
	RSSI             *int16            `json:"rssi" yaml:"rssi"`
	ManufacturerData map[string]string `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
	FirstSeenAt      time.Time         `json:"first_seen_at" yaml:"first_seen_at"`
	LastUpdatedAt    time.Time         `json:"last_updated_at" yaml:"last_updated_at"`
}

// summary is the exported document.
type summary struct {
	Devices []device `json:"devices" yaml:"devices"`
}

func toSummary(recs []*observation.Record) summary {
	out := summary{Devices: make([]device, 0, len(recs))}
	for _, rec := range recs {
		d := device{
			Identity:      rec.Identity,
			Address:       rec.Address,
			Name:          rec.Name,
			RSSI:          rec.RSSI,
			FirstSeenAt:   rec.FirstSeenAt,
			LastUpdatedAt: rec.LastUpdatedAt,
		}
		if len(rec.Vendor) > 0 {
			d.ManufacturerData = make(map[string]string, len(rec.Vendor))
			for _, code := range rec.Vendor.Codes() {
				d.ManufacturerData[observation.VendorTag(code)] = rec.Vendor[code].Hex()
			}
		}
		out.Devices = append(out.Devices, d)
	}
	return out
}
