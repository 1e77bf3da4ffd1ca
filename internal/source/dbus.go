package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"bluescan/internal/busevent"
	"bluescan/internal/observation"
)

const (
	interfacesAddedSignal   = busevent.ObjectManagerInterface + ".InterfacesAdded"
	propertiesChangedSignal = busevent.PropertiesInterface + ".PropertiesChanged"
)

// signalBuffer bounds the D-Bus delivery queue so a burst of
// advertisements cannot grow without limit while the session is draining.
const signalBuffer = 64

// DBusSource subscribes to BlueZ object and property signals on the system
// bus and drives discovery on one adapter.
type DBusSource struct {
	adapterName string
	log         zerolog.Logger

	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	signals     chan *dbus.Signal
	out         chan observation.Partial
	stopped     chan struct{}
}

// NewDBusSource creates a source for the adapter with the given short name,
// e.g. "hci0".
func NewDBusSource(adapterName string, log zerolog.Logger) *DBusSource {
	return &DBusSource{
		adapterName: adapterName,
		log:         log.With().Str("source", "dbus").Logger(),
	}
}

// Name returns the channel identifier.
func (s *DBusSource) Name() string { return "dbus" }

// Start connects to the system bus, resolves the adapter, subscribes to
// InterfacesAdded and device PropertiesChanged signals, and starts
// discovery. Any failure here is fatal for the session.
func (s *DBusSource) Start(ctx context.Context) (<-chan observation.Partial, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	adapterPath, err := resolveAdapter(ctx, conn, s.adapterName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.log.Debug().Str("adapter", string(adapterPath)).Msg("resolved adapter")

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(busevent.ObjectManagerInterface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchInterface(busevent.PropertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchArg(0, busevent.DeviceInterface),
		},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignalContext(ctx, m...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe signals: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)

	adapter := conn.Object(busevent.BusName, adapterPath)
	if err := adapter.CallWithContext(ctx, busevent.AdapterInterface+".StartDiscovery", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("start discovery: %w", err)
	}

	s.conn = conn
	s.adapterPath = adapterPath
	s.signals = signals
	s.out = make(chan observation.Partial, signalBuffer)
	s.stopped = make(chan struct{})

	go s.pump(ctx)

	return s.out, nil
}

// Stop ends discovery and closes the bus connection. A StopDiscovery
// failure is returned for reporting but the connection is released
// regardless.
func (s *DBusSource) Stop(ctx context.Context) error {
	// Unblock the pump if the session already stopped draining.
	close(s.stopped)

	adapter := s.conn.Object(busevent.BusName, s.adapterPath)
	stopErr := adapter.CallWithContext(ctx, busevent.AdapterInterface+".StopDiscovery", 0).Err

	s.conn.RemoveSignal(s.signals)
	close(s.signals)
	if err := s.conn.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	if stopErr != nil {
		return fmt.Errorf("stop discovery: %w", stopErr)
	}
	return nil
}

// pump converts bus signals into observations until the signal channel
// closes. Observations arriving after the session stopped draining are
// discarded.
func (s *DBusSource) pump(ctx context.Context) {
	defer close(s.out)

	for sig := range s.signals {
		s.log.Debug().Str("signal", sig.Name).Str("path", string(sig.Path)).Msg("bus signal")

		obs, ok := s.normalize(ctx, sig)
		if !ok {
			continue
		}
		select {
		case s.out <- obs:
		case <-ctx.Done():
		case <-s.stopped:
		}
	}
}

// normalize reduces one signal to a partial observation. Malformed signal
// bodies are skipped, never fatal.
func (s *DBusSource) normalize(ctx context.Context, sig *dbus.Signal) (observation.Partial, bool) {
	switch sig.Name {
	case interfacesAddedSignal:
		if len(sig.Body) < 2 {
			return observation.Partial{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return observation.Partial{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return observation.Partial{}, false
		}
		return busevent.FromInterfacesAdded(path, ifaces)

	case propertiesChangedSignal:
		if len(sig.Body) < 2 {
			return observation.Partial{}, false
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != busevent.DeviceInterface {
			return observation.Partial{}, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return observation.Partial{}, false
		}
		return busevent.FromDeviceProperties(sig.Path, s.withFullProperties(ctx, sig.Path, changed)), true
	}

	return observation.Partial{}, false
}

// withFullProperties overlays a PropertiesChanged delta onto a freshly
// fetched full property bag, so an observation always carries Address and
// Name when BlueZ still knows them. A failed fetch (the device may already
// be gone) degrades to the delta alone.
func (s *DBusSource) withFullProperties(ctx context.Context, path dbus.ObjectPath, changed map[string]dbus.Variant) map[string]dbus.Variant {
	full := make(map[string]dbus.Variant)

	obj := s.conn.Object(busevent.BusName, path)
	call := obj.CallWithContext(ctx, busevent.PropertiesInterface+".GetAll", 0, busevent.DeviceInterface)
	if call.Err != nil {
		s.log.Debug().Err(call.Err).Str("path", string(path)).Msg("property refetch failed, using delta only")
	} else if err := call.Store(&full); err != nil {
		s.log.Debug().Err(err).Str("path", string(path)).Msg("property decode failed, using delta only")
		full = make(map[string]dbus.Variant)
	}

	for k, v := range changed {
		full[k] = v
	}
	return full
}

// resolveAdapter finds the object path of the adapter with the given short
// name among the currently managed objects.
func resolveAdapter(ctx context.Context, conn *dbus.Conn, name string) (dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	root := conn.Object(busevent.BusName, "/")
	call := root.CallWithContext(ctx, busevent.ObjectManagerInterface+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return "", fmt.Errorf("list managed objects: %w", err)
	}

	for path, ifaces := range objects {
		if _, ok := ifaces[busevent.AdapterInterface]; !ok {
			continue
		}
		if strings.HasSuffix(string(path), "/"+name) {
			return path, nil
		}
	}
	return "", fmt.Errorf("bluetooth adapter %q not found", name)
}
