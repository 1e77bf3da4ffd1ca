// Package busevent normalizes BlueZ D-Bus events into partial observations.
// Both signal shapes — InterfacesAdded with a full interface/property bag
// and PropertiesChanged with a delta bag — reduce to the same observation
// type the line channel produces, so the registry never sees channel
// differences.
package busevent

import (
	"github.com/godbus/dbus/v5"

	"bluescan/internal/observation"
)

// BlueZ bus names and interfaces.
const (
	BusName          = "org.bluez"
	AdapterInterface = "org.bluez.Adapter1"
	DeviceInterface  = "org.bluez.Device1"

	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	PropertiesInterface    = "org.freedesktop.DBus.Properties"
)

// FromInterfacesAdded normalizes an ObjectManager InterfacesAdded signal.
// It returns false when the added object carries no Device1 interface
// (adapters, GATT objects and media endpoints also appear on this signal).
func FromInterfacesAdded(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (observation.Partial, bool) {
	props, ok := ifaces[DeviceInterface]
	if !ok {
		return observation.Partial{}, false
	}
	return FromDeviceProperties(path, props), true
}

// FromDeviceProperties normalizes a Device1 property bag, full or partial.
// Identity is the reported address when present, otherwise the object path,
// which is stable per device for the lifetime of the session.
func FromDeviceProperties(path dbus.ObjectPath, props map[string]dbus.Variant) observation.Partial {
	p := observation.Partial{
		Address: propString(props, "Address"),
	}

	p.Identity = p.Address
	if p.Identity == "" {
		p.Identity = string(path)
	}

	p.Name = propString(props, "Name")
	if p.Name == "" {
		p.Name = propString(props, "Alias")
	}

	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			p.RSSI = &rssi
		}
	}

	if v, ok := props["ManufacturerData"]; ok {
		p.Vendor = decodeManufacturerData(v)
	}

	return p
}

// decodeManufacturerData unpacks the a{qv} manufacturer-data dictionary.
// A single undecodable entry is marked unreadable instead of suppressing
// the rest of the observation.
func decodeManufacturerData(v dbus.Variant) observation.VendorMap {
	out := make(observation.VendorMap)

	switch data := v.Value().(type) {
	case map[uint16]dbus.Variant:
		for code, entry := range data {
			if raw, ok := entry.Value().([]byte); ok {
				out[code] = observation.VendorPayload{Data: raw}
			} else {
				out[code] = observation.VendorPayload{Unreadable: true}
			}
		}
	case map[uint16][]byte:
		for code, raw := range data {
			out[code] = observation.VendorPayload{Data: raw}
		}
	}

	return out
}

// propString reads a string property, tolerating a missing key or a value
// of the wrong type.
func propString(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
