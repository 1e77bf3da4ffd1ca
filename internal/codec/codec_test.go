package codec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"bluescan/internal/observation"
	"bluescan/internal/registry"
)

func scanRecords(t *testing.T) []*observation.Record {
	t.Helper()
	reg := registry.New()
	rssi := int16(-51)
	reg.Merge(observation.Partial{
		Identity: "AA:BB:CC:DD:EE:FF",
		Address:  "AA:BB:CC:DD:EE:FF",
		Name:     "Widget",
		RSSI:     &rssi,
		Vendor: observation.VendorMap{
			0x004C: {Data: []byte{0x1A}},
		},
	})
	reg.Merge(observation.Partial{Identity: "/org/bluez/hci0/dev_X"})
	return reg.Records()
}

func TestForPath(t *testing.T) {
	tests := []struct {
		path    string
		format  string
		wantErr bool
	}{
		{"devices.json", "json", false},
		{"devices.yaml", "yaml", false},
		{"devices.YML", "yaml", false},
		{"devices.csv", "", true},
		{"devices", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exp, err := ForPath(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exp.Format() != tt.format {
				t.Errorf("format = %q, want %q", exp.Format(), tt.format)
			}
		})
	}
}

func TestJSONExport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONExporter().Export(scanRecords(t), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc summary
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if len(doc.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(doc.Devices))
	}
	first := doc.Devices[0]
	if first.Identity != "AA:BB:CC:DD:EE:FF" || first.Name != "Widget" {
		t.Errorf("unexpected first device: %+v", first)
	}
	if first.RSSI == nil || *first.RSSI != -51 {
		t.Errorf("rssi = %v, want -51", first.RSSI)
	}
	if first.ManufacturerData["0x004C"] != "1A" {
		t.Errorf("manufacturer data = %v", first.ManufacturerData)
	}
	second := doc.Devices[1]
	if second.Name != observation.UnknownName {
		t.Errorf("expected sentinel name, got %q", second.Name)
	}
	if second.RSSI != nil {
		t.Error("expected null rssi for never-observed signal")
	}
}

func TestYAMLExport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLExporter().Export(scanRecords(t), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc summary
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("exported YAML does not parse: %v", err)
	}
	if len(doc.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(doc.Devices))
	}
	if !strings.Contains(buf.String(), "AA:BB:CC:DD:EE:FF") {
		t.Errorf("missing identity value:\n%s", buf.String())
	}
	if doc.Devices[0].ManufacturerData["0x004C"] != "1A" {
		t.Errorf("manufacturer data = %v", doc.Devices[0].ManufacturerData)
	}
}
